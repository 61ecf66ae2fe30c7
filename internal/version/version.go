// Package version carries build metadata stamped in through -ldflags.
package version

// Defaults apply to unstamped builds (go run, plain go build).
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)
