package main

import (
	"fmt"
	"os"

	"github.com/tphakala/audiorm/cmd"
	"github.com/tphakala/audiorm/internal/buildinfo"
	"github.com/tphakala/audiorm/internal/conf"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	settings := &conf.Settings{}
	rootCmd := cmd.RootCommand(settings, buildinfo.NewContext(version, buildDate))

	err := rootCmd.Execute()
	if cerr := cmd.CloseLogging(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error closing logs: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
