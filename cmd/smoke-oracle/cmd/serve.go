package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storage engine as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := openClient(cmd.Context())
			if err != nil {
				return err
			}

			if transport == "" {
				transport = cfg.Server.Transport
			}
			server, err := mcp.NewServer(client.Manager, client.Validator, nil)
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "MCP transport (default from config: stdio)")
	return cmd
}
