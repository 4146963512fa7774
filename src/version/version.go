package version

import (
	"fmt"
	"strings"
)

// These variables are injected at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("freightline %s (%s, %s)", Version, Commit, BuildDate)
}

// UserAgent identifies freightline to forges and message brokers.
func UserAgent() string {
	return "freightline/" + strings.TrimPrefix(Version, "v")
}
