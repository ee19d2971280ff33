package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/ggonzalez94/solsum/internal/version.Commit=...".
var (
	CLIName    = "solsum"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

// UserAgent identifies outbound requests to the indexer.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s)", CLIName, CLIVersion, Commit, BuildDate, runtime.Version())
}
