package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "psiarcctl",
		Short:   "Inspect and replay ΨARC oscillator trajectory archives",
		Long:    "psiarcctl inspects ΨARC archive headers and chunk layout, and drives playback of recorded oscillator trajectories.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newInspectCommand(),
		newPlayCommand(),
		newVerifyCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
