package main

import (
	"fmt"
	"os"

	"github.com/haormj/version"
)

// release is the client version compared against the coordinator's latest
// release at startup. Builds stamp it with -ldflags "-X main.release=...",
// together with version.GitCommit, version.GoVersion and version.BuildTime.
var release = "0.0.1a"

func init() {
	version.Version = release
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
