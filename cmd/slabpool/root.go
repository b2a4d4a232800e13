package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/hupe1980/slabpool"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	jsonOut   bool
	capacity  int
	blockSize int
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "slabpool",
	Short: "Exercise fixed-capacity slab pools",
	Long: `slabpool runs allocation scenarios and concurrent churn against slab pools,
and writes and inspects pool snapshots on local disk, S3 or MinIO.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().IntVar(&capacity, "capacity", slabpool.DefaultCapacity, "Number of slots")
	rootCmd.PersistentFlags().IntVar(&blockSize, "block-size", slabpool.DefaultBlockSize, "Slots per block (multiple of 32, at most 255)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the pool logger from --log-level and --json.
func newLogger() (*slabpool.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	if jsonOut {
		return slabpool.NewJSONLogger(level), nil
	}
	return slabpool.NewTextLogger(level), nil
}

// poolOptions maps the global flags onto pool options.
func poolOptions(extra ...slabpool.Option) ([]slabpool.Option, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	opts := []slabpool.Option{
		slabpool.WithCapacity(capacity),
		slabpool.WithBlockSize(blockSize),
		slabpool.WithLogger(logger),
	}
	return append(opts, extra...), nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
