package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngbi/ijbatch/internal/middleware"
)

func newTokenCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Issue an API token for a cluster account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := middleware.NewAuthMiddleware(a.cfg.JWT.Secret, time.Duration(a.cfg.JWT.Expiration)*time.Hour)
			token, err := m.GenerateToken(args[0], email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	return cmd
}
