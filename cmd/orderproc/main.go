// Command orderproc runs the order processing API and its maintenance tasks.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/orderproc"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	ConfigDir string
	Verbose   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "orderproc",
		Short:         "Order processing service",
		Long:          "Accepts, stores and streams orders over an HTTP API, with stress testing and analytics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", defaultConfigDir(), "directory holding config.yaml and the database")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStressCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".orderproc"
	}
	return filepath.Join(dir, "orderproc")
}

// load reads the configuration and builds the logger it describes.
func (opts *rootOptions) load(out io.Writer) (*orderproc.Config, *slog.Logger, error) {
	cfg, err := orderproc.LoadConfig(opts.ConfigDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config : %w", err)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, handlerOptions)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOptions)
	}
	return cfg, slog.New(handler), nil
}
