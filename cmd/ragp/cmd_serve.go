package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ragp/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			srv := mcp.NewServer(&mcp.Config{
				Name:    "ragp",
				Version: version,
			}, eng)
			return srv.Run(context.Background())
		},
	}
}
