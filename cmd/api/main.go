package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/api"
	"github.com/casaflow/engine/internal/config"
	"github.com/casaflow/engine/internal/queue"
	"github.com/casaflow/engine/internal/storage"
	"github.com/casaflow/engine/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	// goose runs over database/sql; the service itself uses pgx pools.
	migrDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open migration connection", zap.Error(err))
	}
	if err := storage.Migrate(migrDB, cfg.MigrationsDir); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	_ = migrDB.Close()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store := storage.New(db)
	outbound := queue.NewOutbound(rdb)

	exec := workflow.NewExecutor(workflow.Stores{
		Tasks:      store,
		Messages:   store,
		Expenses:   store,
		Entities:   store,
		Directory:  store,
		Templates:  store,
		RoundRobin: store,
	}, outbound, log)

	dispatcher := workflow.NewDispatcher(store, store, exec, cfg.AllowlistOrgs(), cfg.MaxAttempts, log)
	processor := workflow.NewProcessor(store, store, exec, log)

	srv := api.NewServer(
		dispatcher, processor, store, store, store, store,
		workflow.Mode(cfg.EngineMode), cfg.IsProduction(), cfg.InternalAPIKey, log,
	)

	log.Info("workflow engine api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("engine_mode", cfg.EngineMode))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Router()); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.IsProduction() {
		log, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return log
}
