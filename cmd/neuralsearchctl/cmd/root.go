// Package cmd provides the CLI commands for neuralsearchctl.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensearch-project/neural-search-sub002/internal/logging"
	"github.com/opensearch-project/neural-search-sub002/internal/profiling"
	"github.com/opensearch-project/neural-search-sub002/internal/ui"
	"github.com/opensearch-project/neural-search-sub002/pkg/version"
)

var (
	debugMode      bool
	noColor        bool
	loggingCleanup func()

	profileCPU string
	profileMem string
	profiler   = profiling.NewProfiler()
	cpuCleanup func()
)

// NewRootCmd creates the root command for the neuralsearchctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neuralsearchctl",
		Short: "Run and inspect the hybrid-query score post-processing pipeline",
		Long: `neuralsearchctl runs the hybrid-query score normalization/combination
pipeline standalone, outside of the cluster, for local testing and
debugging — and serves it as an MCP tool for agent clients.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("neuralsearchctl version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.neuralsearch/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored/TUI output")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to this path for the command's duration")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write a heap profile to this path after the command completes")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPipelineCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("no-color") && ui.DetectNoColor() {
		noColor = true
	}

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		cleanup, err := profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		cpuCleanup = cleanup
	}

	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
