package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ngbi/ijbatch/internal/archive"
	"github.com/ngbi/ijbatch/internal/execx"
	"github.com/ngbi/ijbatch/internal/handler"
	"github.com/ngbi/ijbatch/internal/macros"
	"github.com/ngbi/ijbatch/internal/middleware"
	"github.com/ngbi/ijbatch/internal/omero"
	"github.com/ngbi/ijbatch/internal/pipeline"
	"github.com/ngbi/ijbatch/internal/server"
	"github.com/ngbi/ijbatch/internal/service"
	"github.com/ngbi/ijbatch/internal/store"
	"github.com/ngbi/ijbatch/internal/validation"
	ws "github.com/ngbi/ijbatch/internal/websocket"
	"github.com/ngbi/ijbatch/internal/worker"
	"github.com/ngbi/ijbatch/internal/workspace"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the batch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "error", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	hub := ws.NewHub(log)
	go hub.Run()

	runStore := store.NewRedisStore(redisClient, store.DefaultTTL)
	catalog := macros.NewCatalog(cfg.Paths.MacroDir)
	batchService := service.NewBatchService(runStore, asynqClient, catalog)

	var archiver *archive.Archiver
	if cfg.R2Enabled() {
		r2, err := archive.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("artifact archive disabled", "error", err)
		} else {
			archiver = archive.NewArchiver(r2)
		}
	}

	repo := omero.NewClient(&cfg.Omero)
	defer repo.Close()
	runner := execx.NewExecutor(cfg.Exec.Timeout)
	batchWorker := worker.NewBatchWorker(runStore, func(system string) *pipeline.Processor {
		return pipeline.FromConfig(cfg, repo, runner, system, log)
	}, hub, archiver, log)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		// one batch at a time, like the CLI
		Concurrency: 1,
		Queues:      map[string]int{service.QueueBatches: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeBatch, batchWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		return err
	}
	defer srv.Shutdown()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go a.runJanitor(ctx)

	app := server.NewApp(server.Deps{
		Batches:   handler.NewBatchHandler(batchService, validation.New()),
		Auth:      middleware.NewAuthMiddleware(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour),
		Hub:       hub,
		AccessLog: true,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	return app.Listen(addr)
}

// runJanitor removes expired workspaces every clean interval until ctx ends.
func (a *app) runJanitor(ctx context.Context) {
	interval := a.cfg.Workspace.CleanInterval
	if a.cfg.Workspace.Retention == 0 || interval <= 0 {
		return
	}
	j := workspace.NewJanitor(a.cfg.Paths.ScratchRoot, a.cfg.Workspace.Retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Clean()
			if err != nil {
				a.log.Error("workspace cleanup failed", "error", err)
				continue
			}
			if len(removed) > 0 {
				a.log.Info("workspace cleanup", "removed", len(removed))
			}
		}
	}
}
