package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensearch-project/neural-search-sub002/internal/mcpserver"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelineconfig"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelinestore"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var storePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline as an MCP tool over stdio",
		Long: `Starts an MCP server exposing hybrid_search_explain, so an agent
client can run the pipeline directly and read back per-hit explanations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := pipelineconfig.DefaultConfig()
			if configPath != "" {
				loaded, err := pipelineconfig.LoadFile(configPath)
				if err != nil {
					return fmt.Errorf("failed to load pipeline config: %w", err)
				}
				cfg = loaded
			}

			store, err := pipelinestore.Open(storePath)
			if err != nil {
				return fmt.Errorf("failed to open pipeline store: %w", err)
			}
			defer store.Close()

			return mcpserver.New(cfg, store).Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to pipeline configuration YAML (default: zero-config defaults)")
	cmd.Flags().StringVar(&storePath, "store", "", "Path to the pipeline run audit log (default: in-memory)")
	return cmd
}
