// Package banner renders the startup banner.
package banner

import "fmt"

const art = `
      _
  ___| |_   _
 / __| | | | |
 \__ \ | |_| |
 |___/_|\__,_|
`

// Banner returns the banner with the version line appended.
func Banner(version string) string {
	return fmt.Sprintf("%s slot tagging and intent detection %s\n\n", art, version)
}
