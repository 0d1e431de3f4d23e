package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/polmsg-collector/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the run API and worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			svc := server.New(rt.app, rt.logger.Named("server"))
			if err := svc.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
