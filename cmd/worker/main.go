package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/config"
	"github.com/casaflow/engine/internal/queue"
	"github.com/casaflow/engine/internal/storage"
	"github.com/casaflow/engine/internal/workflow"
)

// The worker is the external caller the engine expects: it claims and
// drains one batch per tick. Several workers may run side by side; the
// claim query keeps them from stepping on each other.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store := storage.New(db)

	exec := workflow.NewExecutor(workflow.Stores{
		Tasks:      store,
		Messages:   store,
		Expenses:   store,
		Entities:   store,
		Directory:  store,
		Templates:  store,
		RoundRobin: store,
	}, queue.NewOutbound(rdb), log)
	processor := workflow.NewProcessor(store, store, exec, log)

	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	log.Info("workflow worker started",
		zap.Duration("interval", interval),
		zap.Int("batch_size", cfg.BatchSize))

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for range tick.C {
		summary := processor.ProcessJobs(ctx, cfg.BatchSize)
		if summary.Picked > 0 {
			log.Info("processed workflow jobs",
				zap.Int("picked", summary.Picked),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed),
				zap.Int("skipped", summary.Skipped),
				zap.Int("retried", summary.Retried))
		}
	}
}
