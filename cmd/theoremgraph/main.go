// Command theoremgraph ingests mathematics documents into a theorem graph
// and answers questions over it, from the terminal or over HTTP.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/theoremgraph"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// cfg is loaded once by the root command before any subcommand runs.
	cfg theoremgraph.Config
)

var rootCmd = &cobra.Command{
	Use:   "theoremgraph",
	Short: "Theorem graph extraction and question answering",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(os.Stderr, logLevel, logFormat); err != nil {
			return err
		}
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json or text")
}

// loadConfig reads path (when given) over the defaults, then applies
// environment overrides.
func loadConfig(path string) (theoremgraph.Config, error) {
	c := theoremgraph.DefaultConfig()
	if path != "" {
		var err error
		if c, err = theoremgraph.LoadConfig(path); err != nil {
			return c, err
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// setupLogging installs the default slog handler.
func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "json", "":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
