// Package cmd provides the CLI commands for ragon.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/config"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/logging"
	"github.com/ragon-ai/ragon/internal/profiling"
	"github.com/ragon-ai/ragon/pkg/version"
)

// Global flags shared by every subcommand.
var (
	configFile string
	logLevel   string
)

// Profiling flags and state for the persistent pre/post hooks.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.New()
	cpuStop      func()
	traceStop    func()
)

// NewRootCmd creates the root command for the ragon CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragon",
		Short: "Content-addressed retrieval service for document collections",
		Long: `Ragon indexes document collections into content-addressed vector
indexes and serves retrieval queries over HTTP, MCP and the CLI.

Indexes are keyed by the MD5 fingerprint of the source content, so an
edited document resolves to a fresh index directory and a rename never
triggers a rebuild. Loaded indexes stay resident in an in-memory cache
shared by all query surfaces.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("ragon version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/ragon/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newMultiCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReclaimCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. Errors are rendered through the
// structured formatter so codes and suggestions reach the operator.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, ragonerr.FormatForUser(err, logLevel == "debug"))
	}
	return err
}

// startProfiling starts CPU and trace profiling when the flags ask
// for them.
func startProfiling(_ *cobra.Command, _ []string) error {
	var err error
	if profileCPU != "" {
		cpuStop, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return err
		}
	}
	if profileTrace != "" {
		traceStop, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuStop != nil {
				cpuStop()
			}
			return err
		}
	}
	return nil
}

// stopProfiling flushes the running profiles and writes the heap
// snapshot if one was requested.
func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuStop != nil {
		cpuStop()
		cpuStop = nil
	}
	if traceStop != nil {
		traceStop()
		traceStop = nil
	}
	if profileMem != "" {
		return profiler.WriteHeap(profileMem)
	}
	return nil
}

// loadConfig resolves configuration for a collection directory,
// honoring the global --config and --log-level flags.
func loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadWithFile(configFile, dir)
	} else {
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogging initializes file logging and installs the logger as the
// process default. Long-running commands mirror records to stderr;
// one-shot commands keep stderr for their own output.
func setupLogging(lc config.LoggingConfig, toStderr bool) func() {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = toStderr
	if lc.Level != "" {
		logCfg.Level = lc.Level
	}
	if lc.File != "" {
		logCfg.FilePath = lc.File
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}
