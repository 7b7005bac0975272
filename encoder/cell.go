package encoder

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// cell is one direction of the Elman recurrence:
// h_t = tanh(x_t Wx + h_{t-1} Wh + b).
type cell struct {
	wx *nn.Param // [in][H]
	wh *nn.Param // [H][H]
	b  *nn.Param // [1][H]
	h  int
}

func newCell(name string, in, hidden int) *cell {
	return &cell{
		wx: nn.NewParam(name+".Wx", in, hidden),
		wh: nn.NewParam(name+".Wh", hidden, hidden),
		b:  nn.NewParam(name+".b", 1, hidden),
		h:  hidden,
	}
}

func (c *cell) params() []*nn.Param {
	return []*nn.Param{c.wx, c.wh, c.b}
}

// cellRun caches one forward pass for backpropagation through time.
type cellRun struct {
	x       *mat.Dense // [T][in]
	h       *mat.Dense // [T][H], in input order
	reverse bool
}

// forward runs the recurrence over x, right to left when reverse is set.
// The returned hidden matrix is always in input order.
func (c *cell) forward(x *mat.Dense, reverse bool) *cellRun {
	T, _ := x.Dims()
	h := mat.NewDense(T, c.h, nil)

	prev := make([]float64, c.h)
	step := func(t int) {
		row := make([]float64, c.h)
		for j := range c.h {
			a := c.b.Value.At(0, j)
			for k := range prev {
				a += prev[k] * c.wh.Value.At(k, j)
			}
			row[j] = a
		}
		xr := x.RawRowView(t)
		for j := range c.h {
			a := row[j]
			for k, xv := range xr {
				a += xv * c.wx.Value.At(k, j)
			}
			h.Set(t, j, math.Tanh(a))
		}
		copy(prev, h.RawRowView(t))
	}
	if reverse {
		for t := T - 1; t >= 0; t-- {
			step(t)
		}
	} else {
		for t := range T {
			step(t)
		}
	}
	return &cellRun{x: x, h: h, reverse: reverse}
}

// backward runs truncated-nowhere BPTT over the full sequence, accumulating
// parameter gradients and returning the input gradient.
func (c *cell) backward(run *cellRun, dh *mat.Dense) *mat.Dense {
	T, in := run.x.Dims()
	dx := mat.NewDense(T, in, nil)
	carry := make([]float64, c.h) // gradient flowing into h_t from h_{t+1 in time}

	order := make([]int, T)
	for i := range T {
		if run.reverse {
			order[i] = T - 1 - i
		} else {
			order[i] = i
		}
	}

	// Walk time in reverse of the forward order.
	for i := T - 1; i >= 0; i-- {
		t := order[i]
		da := make([]float64, c.h)
		for j := range c.h {
			hv := run.h.At(t, j)
			da[j] = (dh.At(t, j) + carry[j]) * (1 - hv*hv)
		}

		xr := run.x.RawRowView(t)
		for j := range c.h {
			g := da[j]
			for k, xv := range xr {
				c.wx.Grad.Set(k, j, c.wx.Grad.At(k, j)+xv*g)
			}
			c.b.Grad.Set(0, j, c.b.Grad.At(0, j)+g)
		}
		if i > 0 {
			prev := run.h.RawRowView(order[i-1])
			for j := range c.h {
				g := da[j]
				for k, pv := range prev {
					c.wh.Grad.Set(k, j, c.wh.Grad.At(k, j)+pv*g)
				}
			}
		}

		for k := range in {
			var s float64
			for j := range c.h {
				s += da[j] * c.wx.Value.At(k, j)
			}
			dx.Set(t, k, s)
		}
		for k := range c.h {
			var s float64
			for j := range c.h {
				s += da[j] * c.wh.Value.At(k, j)
			}
			carry[k] = s
		}
	}
	return dx
}
