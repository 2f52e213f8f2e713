package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "giftmap",
		Short: "Giftmap - incremental gift-chain discovery graph",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	var serveTargets []string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and scan API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, serveTargets)
		},
	}
	serveCmd.Flags().StringSliceVar(&serveTargets, "target", nil, "Targets to queue at startup (in addition to scan.targets)")

	var replayOpts replayOptions
	replayCmd := &cobra.Command{
		Use:   "replay [targets...]",
		Short: "Replay recorded scans into a graph and print a report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replayOpts.targets = args
			return runReplay(configPath, replayOpts)
		},
	}
	replayCmd.Flags().StringVar(&replayOpts.dir, "dir", "", "Directory holding <target>.jsonl recordings")
	replayCmd.Flags().BoolVar(&replayOpts.deriveBioLinks, "bio-links", false, "Derive channel links from account bios")
	replayCmd.Flags().BoolVar(&replayOpts.jsonReport, "json-report", false, "Print the report as JSON")
	replayCmd.Flags().StringVar(&replayOpts.recordsPath, "records", "", "Write the projected records as JSON to this file")
	_ = replayCmd.MarkFlagRequired("dir")

	var exportOpts exportOptions
	exportCmd := &cobra.Command{
		Use:   "export [targets...]",
		Short: "Replay recorded scans and export the resulting graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportOpts.targets = args
			return runExport(configPath, exportOpts)
		},
	}
	exportCmd.Flags().StringVar(&exportOpts.dir, "dir", "", "Directory holding <target>.jsonl recordings")
	exportCmd.Flags().StringVar(&exportOpts.format, "format", "json", "Export format: json, dot, mermaid or neo4j")
	exportCmd.Flags().StringVar(&exportOpts.output, "output", "", "Output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportOpts.deriveBioLinks, "bio-links", false, "Derive channel links from account bios")
	_ = exportCmd.MarkFlagRequired("dir")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("giftmap", version)
		},
	}

	rootCmd.AddCommand(serveCmd, replayCmd, exportCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
