// Package version reports the toolguard build version.
package version

import "runtime/debug"

// Version is set at build time with -ldflags.
var Version = "devel"

// A binary installed with `go install` carries no -ldflags, so fall back to
// the module version recorded in the build info.
func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	mainVersion := info.Main.Version
	if mainVersion != "" && mainVersion != "(devel)" {
		Version = mainVersion
	}
}
