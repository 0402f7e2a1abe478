package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngbi/ijbatch/internal/workspace"
)

func newCleanCmd(a *app) *cobra.Command {
	var (
		retention time.Duration
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove run workspaces and artifacts older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retention") {
				retention = a.cfg.Workspace.Retention
			}
			if retention == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "retention is 0, nothing to do")
				return nil
			}
			j := workspace.NewJanitor(a.cfg.Paths.ScratchRoot, retention)
			j.DryRun = dryRun
			removed, err := j.Clean()
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override workspace.retention")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list what would be removed")
	return cmd
}
