package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ngbi/ijbatch/internal/config"
	"github.com/ngbi/ijbatch/internal/logging"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ijbatch",
		Short:         "Split image stacks into per-plane cluster jobs and submit them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.log.Close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newSubmitCmd(a),
		newServeCmd(a),
		newCleanCmd(a),
		newMacrosCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	log := logging.NewLogger(cfg.Log.Level)
	if cfg.Log.File != "" {
		if log, err = logging.Open(cfg.Log.File, cfg.Log.Level); err != nil {
			return err
		}
	}
	a.cfg, a.log = cfg, log
	return nil
}
