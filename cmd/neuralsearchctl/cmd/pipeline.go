package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensearch-project/neural-search-sub002/internal/explainview"
	"github.com/opensearch-project/neural-search-sub002/internal/mcpserver"
	"github.com/opensearch-project/neural-search-sub002/internal/output"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelineconfig"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelinestore"
	"github.com/opensearch-project/neural-search-sub002/internal/ui"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run, validate, and inspect the score post-processing pipeline",
	}

	cmd.AddCommand(newPipelineRunCmd())
	cmd.AddCommand(newPipelineValidateCmd())
	cmd.AddCommand(newPipelineExplainCmd())
	cmd.AddCommand(newPipelineHistoryCmd())
	return cmd
}

// pipelineRunOptions are the flags shared by `pipeline run` and
// `pipeline explain` (explain simply forces Explain-oriented rendering).
type pipelineRunOptions struct {
	inputPath string
	config    string
	store     string
}

func (o pipelineRunOptions) readInput() (mcpserver.HybridSearchExplainInput, error) {
	var r io.Reader = os.Stdin
	if o.inputPath != "" && o.inputPath != "-" {
		f, err := os.Open(o.inputPath)
		if err != nil {
			return mcpserver.HybridSearchExplainInput{}, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var input mcpserver.HybridSearchExplainInput
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return mcpserver.HybridSearchExplainInput{}, fmt.Errorf("failed to parse pipeline input JSON: %w", err)
	}
	return input, nil
}

func (o pipelineRunOptions) buildServer() (*mcpserver.Server, func(), error) {
	cfg := pipelineconfig.DefaultConfig()
	if o.config != "" {
		loaded, err := pipelineconfig.LoadFile(o.config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load pipeline config: %w", err)
		}
		cfg = loaded
	}

	store, err := pipelinestore.Open(o.store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pipeline store: %w", err)
	}

	return mcpserver.New(cfg, store), func() { _ = store.Close() }, nil
}

func newPipelineRunCmd() *cobra.Command {
	var opts pipelineRunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline over an inline document set and print the combined hits",
		Long: `Reads a JSON document (see HybridSearchExplainInput) from --input or
stdin, runs the normalization/combination pipeline, and prints each
hit's doc id and combined score as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := opts.readInput()
			if err != nil {
				return err
			}

			server, cleanup, err := opts.buildServer()
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := server.RunHybridSearchExplain(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("pipeline run failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&opts.inputPath, "input", "", "Path to a JSON input file (default: stdin)")
	cmd.Flags().StringVar(&opts.config, "config", "", "Path to pipeline configuration YAML")
	cmd.Flags().StringVar(&opts.store, "store", "", "Path to the pipeline run audit log (default: in-memory)")
	return cmd
}

func newPipelineExplainCmd() *cobra.Command {
	var opts pipelineRunOptions
	var plain bool

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Run the pipeline and walk each hit's explanation interactively",
		Long: `Like "run", but walks the combined hits hit-by-hit in a TUI showing
the normalization and combination explanation tree behind each score.
Falls back to a flat text rendering when stdout isn't a terminal or
--plain is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := opts.readInput()
			if err != nil {
				return err
			}

			server, cleanup, err := opts.buildServer()
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := server.RunHybridSearchExplain(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("pipeline run failed: %w", err)
			}

			if plain || noColor || !ui.IsTTY(cmd.OutOrStdout()) {
				_, err := fmt.Fprint(cmd.OutOrStdout(), explainview.RenderPlain(out.Hits))
				return err
			}
			return explainview.Run(out.Hits, noColor)
		},
	}

	cmd.Flags().StringVar(&opts.inputPath, "input", "", "Path to a JSON input file (default: stdin)")
	cmd.Flags().StringVar(&opts.config, "config", "", "Path to pipeline configuration YAML")
	cmd.Flags().StringVar(&opts.store, "store", "", "Path to the pipeline run audit log (default: in-memory)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Force flat text output instead of the interactive TUI")
	return cmd
}

func newPipelineValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a pipeline configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := output.New(cmd.OutOrStdout())
			if _, err := pipelineconfig.LoadFile(args[0]); err != nil {
				w.Errorf("%s: %v", args[0], err)
				return fmt.Errorf("invalid pipeline configuration: %w", err)
			}
			w.Successf("%s: OK", args[0])
			return nil
		},
	}
	return cmd
}

func newPipelineHistoryCmd() *cobra.Command {
	var storePath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently executed pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storePath == "" {
				return fmt.Errorf("--store is required (an in-memory audit log has nothing to list)")
			}
			store, err := pipelinestore.Open(storePath)
			if err != nil {
				return fmt.Errorf("failed to open pipeline store: %w", err)
			}
			defer store.Close()

			runs, err := store.History(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to read pipeline history: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "Path to the pipeline run audit log")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}
