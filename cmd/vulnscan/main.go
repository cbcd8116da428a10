// Command vulnscan is the network vulnerability scanner: an API server, a
// local single-host scanner and a client for managing server jobs.
package main

import "github.com/anstrom/vulnscan/cmd/cli"

// Set through -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
