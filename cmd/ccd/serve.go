package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contextcache/contextcache/internal/apikey"
	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/invite"
	"github.com/contextcache/contextcache/internal/jobs"
	"github.com/contextcache/contextcache/internal/mailer"
	"github.com/contextcache/contextcache/internal/memorysvc"
	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/recall"
	"github.com/contextcache/contextcache/internal/server"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

// housekeepingInterval drives the periodic purge and index-optimize jobs.
const housekeepingInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := cmd.Context()

		store, err := sqlite.New(ctx, cfg.DBPath, sqlite.Options{MaxConns: cfg.StoreMaxConns})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		loc, err := cfg.QuotaLocation()
		if err != nil {
			return err
		}

		perimeter := auth.NewPerimeter(store, logger)
		ledger := quota.NewLedger(store, cfg.QuotaLimits(), loc)
		engine := recall.NewEngine(store, pack.New(cfg.PackBudget))

		dispatcher := jobs.NewDispatcher(store, logger, jobs.Options{
			Workers:   cfg.JobWorkers,
			QueueSize: cfg.JobQueueSize,
		})
		defer dispatcher.Close()
		registerJobHandlers(dispatcher, store)

		var mail mailer.Mailer
		if !cfg.Dev {
			mail = &mailer.LogMailer{Log: logger}
		}
		invites := invite.NewFlow(store, mail, cfg.BaseURL, logger)

		srv := server.New(cfg, server.Deps{
			Store:      store,
			Perimeter:  perimeter,
			Ledger:     ledger,
			Memories:   memorysvc.New(store, perimeter, ledger, dispatcher, logger),
			Engine:     engine,
			Invites:    invites,
			Keys:       apikey.NewManager(store),
			Dispatcher: dispatcher,
			MailerUp:   true,
			Log:        logger,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(gctx) })
		g.Go(func() error { return housekeeping(gctx, dispatcher) })
		return g.Wait()
	},
}

// registerJobHandlers binds the background task handlers. All handlers are
// idempotent; the dispatcher owns retries.
func registerJobHandlers(d *jobs.Dispatcher, store storage.Storage) {
	d.Register(jobs.TaskReindexProject, func(ctx context.Context, payload string) error {
		return store.RebuildSearchIndex(ctx)
	})
	d.Register(jobs.TaskComputeRanking, func(ctx context.Context, payload string) error {
		return store.OptimizeSearchIndex(ctx)
	})
	d.Register(jobs.TaskPurgeLoginEvents, func(ctx context.Context, payload string) error {
		_, err := store.PurgeOldLoginEvents(ctx, time.Now().UTC().Add(-types.LoginEventMaxAge))
		return err
	})
	d.Register(jobs.TaskPurgeSessions, func(ctx context.Context, payload string) error {
		_, err := store.PurgeExpiredSessions(ctx, time.Now().UTC())
		return err
	})
}

// housekeeping enqueues the periodic maintenance jobs until ctx is done.
func housekeeping(ctx context.Context, d *jobs.Dispatcher) error {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, task := range []string{
				jobs.TaskPurgeSessions,
				jobs.TaskPurgeLoginEvents,
				jobs.TaskComputeRanking,
			} {
				if _, err := d.Enqueue(ctx, task, ""); err != nil {
					logger.Warn("failed to enqueue housekeeping job", "task", task, "error", err)
				}
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
