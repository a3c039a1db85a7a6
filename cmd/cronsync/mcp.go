package main

import (
	"context"

	"github.com/flemzord/cronsync/internal/mcpserver"
	"github.com/flemzord/cronsync/pkg/app"
	"github.com/spf13/cobra"
)

func mcpCmd(flags *globalFlags) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve task management tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), flags, func(_ context.Context, s *app.Session) error {
				srv := mcpserver.New(s.Manager(), tenant, version, s.Logger())
				return srv.ServeStdio()
			})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant used when a tool call omits one")
	return cmd
}
