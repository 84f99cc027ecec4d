package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "hunter",
	Short: "Autonomous proxy-hunting pipeline for censored networks",
	Long: `Hunter harvests candidate proxy URIs from multiple unreliable sources,
validates each against a local proxy-engine subprocess, ranks survivors by
latency, and serves the best as a long-lived local SOCKS5 load balancer.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runHunter,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to .env-style config file (default ./hunter.env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
