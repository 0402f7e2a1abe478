package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngbi/ijbatch/internal/macros"
)

func newMacrosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "macros",
		Short: "List the selectable macros",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := macros.NewCatalog(a.cfg.Paths.MacroDir).List()
			if err != nil {
				return err
			}
			for _, m := range list {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}
