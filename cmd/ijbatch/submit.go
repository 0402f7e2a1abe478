package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngbi/ijbatch/internal/execx"
	"github.com/ngbi/ijbatch/internal/macros"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/omero"
	"github.com/ngbi/ijbatch/internal/pipeline"
	"github.com/ngbi/ijbatch/internal/validation"
)

type submitOptions struct {
	dataType string
	ids      []int64
	req      model.SubmitRequest
	user     string
	report   string
}

func newSubmitCmd(a *app) *cobra.Command {
	o := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Export, plan and submit one cluster job per selected image",
		Example: `  ijbatch submit --type Dataset --ids 51 --macro weka_classify
  ijbatch submit --ids 101,102 --macro segment.ijm --wall-time 1:00:00 --report batch.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.submit(ctx, cmd.OutOrStdout(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.dataType, "type", string(model.DataTypeImage), "pick images by Image or by Dataset id")
	f.Int64SliceVar(&o.ids, "ids", nil, "image or dataset ids")
	f.StringVar(&o.req.Macro, "macro", "", "macro name or path from the macro directory")
	f.StringVar(&o.req.System, "system", "", "cluster to submit to (default scheduler.system)")
	f.StringVar(&o.req.WallTime, "wall-time", "", "wall time per job, e.g. 0:30:00 (default scheduler.wall_time)")
	f.StringVar(&o.req.PrivateMemory, "private-memory", "", "private memory per job, e.g. 4GB (default scheduler.private_memory)")
	f.StringVar(&o.req.SessionID, "session", "", "session id passed to the descriptor (default omero.session_uuid or a new uuid)")
	f.StringVar(&o.user, "user", "", "cluster account (default current OS user)")
	f.StringVar(&o.report, "report", "", "write a YAML report of every outcome to this file")
	_ = cmd.MarkFlagRequired("ids")
	_ = cmd.MarkFlagRequired("macro")
	return cmd
}

func (a *app) submit(ctx context.Context, out io.Writer, o *submitOptions) error {
	o.req.Selection = model.Selection{DataType: model.DataType(o.dataType), IDs: o.ids}
	if err := validation.New().Struct(&o.req); err != nil {
		return fmt.Errorf("invalid request: %v", validation.FieldErrors(err))
	}

	macro, err := macros.NewCatalog(a.cfg.Paths.MacroDir).Resolve(o.req.Macro)
	if err != nil {
		return err
	}
	owner, err := currentUser(o.user)
	if err != nil {
		return err
	}
	session := o.req.SessionID
	if session == "" {
		session = a.cfg.Omero.SessionUUID
	}
	if session == "" {
		session = uuid.New().String()
	}

	repo := omero.NewClient(&a.cfg.Omero)
	if !repo.IsConfigured() {
		return fmt.Errorf("omero.base_url is not set")
	}
	defer repo.Close()

	p := pipeline.FromConfig(a.cfg, repo, execx.NewExecutor(a.cfg.Exec.Timeout), o.req.System, a.log)
	report, err := p.ProcessBatch(ctx, pipeline.Job{
		BatchID:       uuid.New().String(),
		User:          owner,
		SessionID:     session,
		Selection:     o.req.Selection,
		Macro:         macro,
		WallTime:      o.req.WallTime,
		PrivateMemory: o.req.PrivateMemory,
	})
	if report != nil {
		printOutcomes(out, report)
		if o.report != "" {
			if werr := writeReport(o.report, report); werr != nil {
				a.log.Error("failed to write report", "path", o.report, "error", werr)
			}
		}
	}
	if err != nil {
		return err
	}
	if n := report.Count(model.RunStateFailed); n > 0 {
		return fmt.Errorf("%d of %d images failed", n, len(report.Outcomes))
	}
	return nil
}

func printOutcomes(w io.Writer, r *pipeline.Report) {
	for _, o := range r.Outcomes {
		switch o.State {
		case model.RunStateSubmitted:
			fmt.Fprintf(w, "%d\t%s\t%s\tnodes=%d\tjob=%s\t%s\n", o.ImageID, o.ImageName, o.State, o.Nodes, o.SchedulerJobID, o.DescriptorPath)
		default:
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.ImageID, o.ImageName, o.State, o.Error)
		}
	}
}

func writeReport(path string, r *pipeline.Report) error {
	data, err := yaml.Marshal(struct {
		pipeline.Report `yaml:",inline"`
		Status          model.BatchStatus `yaml:"status"`
	}{*r, r.Status()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func currentUser(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	if name := os.Getenv("USER"); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("cannot determine the current user; pass --user")
}
