package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/fetch"
)

var version = "0.3.0"

var (
	cfgPath  string
	logLevel string
)

// Output colors.
var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	good   = color.New(color.FgGreen)
	bad    = color.New(color.FgRed)
	info   = color.New(color.FgCyan)
)

var rootCmd = &cobra.Command{
	Use:          "circuitscope",
	Short:        "circuitscope: nested graph server for the circuit debugger",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			level = slog.LevelInfo
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.SetVersionTemplate("circuitscope {{ .Version }}\n")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/circuitscope.yaml", "Path to circuit YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		checkCmd(),
		subgraphCmd(),
		inspectCmd(),
	)
}

// loadConfig reads and validates the config named by --config.
func loadConfig() (*config.Loader, error) {
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(loader.Config()); err != nil {
		return nil, err
	}
	return loader, nil
}

// newClient builds a fetch client for a remote graph-data backend.
func newClient(baseURL string, s config.SessionConf) (*fetch.Client, error) {
	return fetch.New(baseURL, fetch.WithRetries(s.FetchRetries, time.Duration(s.RetryDelayMs)*time.Millisecond))
}
