package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	Step(params []*Param)
}

// NewOptimizer selects an optimizer by name: sgd, adam, adadelta or rmsprop.
// The learning rate applies to sgd, adam and rmsprop; adadelta uses its
// fixed schedule.
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return &SGD{LR: lr}, nil
	case "adam":
		return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}, nil
	case "adadelta":
		return &Adadelta{Rho: 0.95, Eps: 1e-6, LR: 1.0}, nil
	case "rmsprop":
		return &RMSProp{LR: lr, Alpha: 0.99, Eps: 1e-8}, nil
	default:
		return nil, fmt.Errorf("nn: unknown optimizer %q", name)
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LR float64
}

// Step applies w -= lr * g.
func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		var scaled mat.Dense
		scaled.Scale(o.LR, p.Grad)
		p.Value.Sub(p.Value, &scaled)
	}
}

// Adam implements the Adam optimizer.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m map[*Param]*mat.Dense
	v map[*Param]*mat.Dense
}

// Step applies one bias-corrected Adam update.
func (o *Adam) Step(params []*Param) {
	if o.m == nil {
		o.m = make(map[*Param]*mat.Dense)
		o.v = make(map[*Param]*mat.Dense)
	}
	o.t++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.t))
	for _, p := range params {
		r, c := p.Value.Dims()
		m, ok := o.m[p]
		if !ok {
			m = mat.NewDense(r, c, nil)
			o.m[p] = m
			o.v[p] = mat.NewDense(r, c, nil)
		}
		v := o.v[p]
		for i := range r {
			for j := range c {
				g := p.Grad.At(i, j)
				mij := o.Beta1*m.At(i, j) + (1-o.Beta1)*g
				vij := o.Beta2*v.At(i, j) + (1-o.Beta2)*g*g
				m.Set(i, j, mij)
				v.Set(i, j, vij)
				upd := o.LR * (mij / bc1) / (math.Sqrt(vij/bc2) + o.Eps)
				p.Value.Set(i, j, p.Value.At(i, j)-upd)
			}
		}
	}
}

// Adadelta implements the Adadelta optimizer.
type Adadelta struct {
	Rho float64
	Eps float64
	LR  float64

	accGrad map[*Param]*mat.Dense
	accUpd  map[*Param]*mat.Dense
}

// Step applies one Adadelta update.
func (o *Adadelta) Step(params []*Param) {
	if o.accGrad == nil {
		o.accGrad = make(map[*Param]*mat.Dense)
		o.accUpd = make(map[*Param]*mat.Dense)
	}
	for _, p := range params {
		r, c := p.Value.Dims()
		eg, ok := o.accGrad[p]
		if !ok {
			eg = mat.NewDense(r, c, nil)
			o.accGrad[p] = eg
			o.accUpd[p] = mat.NewDense(r, c, nil)
		}
		eu := o.accUpd[p]
		for i := range r {
			for j := range c {
				g := p.Grad.At(i, j)
				egij := o.Rho*eg.At(i, j) + (1-o.Rho)*g*g
				eg.Set(i, j, egij)
				upd := math.Sqrt(eu.At(i, j)+o.Eps) / math.Sqrt(egij+o.Eps) * g
				eu.Set(i, j, o.Rho*eu.At(i, j)+(1-o.Rho)*upd*upd)
				p.Value.Set(i, j, p.Value.At(i, j)-o.LR*upd)
			}
		}
	}
}

// RMSProp implements the RMSProp optimizer.
type RMSProp struct {
	LR    float64
	Alpha float64
	Eps   float64

	acc map[*Param]*mat.Dense
}

// Step applies one RMSProp update.
func (o *RMSProp) Step(params []*Param) {
	if o.acc == nil {
		o.acc = make(map[*Param]*mat.Dense)
	}
	for _, p := range params {
		r, c := p.Value.Dims()
		acc, ok := o.acc[p]
		if !ok {
			acc = mat.NewDense(r, c, nil)
			o.acc[p] = acc
		}
		for i := range r {
			for j := range c {
				g := p.Grad.At(i, j)
				a := o.Alpha*acc.At(i, j) + (1-o.Alpha)*g*g
				acc.Set(i, j, a)
				p.Value.Set(i, j, p.Value.At(i, j)-o.LR*g/(math.Sqrt(a)+o.Eps))
			}
		}
	}
}
