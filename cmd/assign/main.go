package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/jobrouter/internal/engine"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "assign", Output: os.Stderr})

	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.Cmd, "cmd", "run", "command: run|priority|preview|logs")
	flag.StringVar(&opts.JobID, "job", "", "job id (run, logs)")
	flag.StringVar(&opts.ClientID, "client", "", "client id (priority, preview)")
	flag.StringVar(&opts.Priority, "priority", "", "requested priority: low|normal|high|urgent")
	flag.IntVar(&opts.Limit, "limit", 0, "page size for logs")
	flag.StringVar(&opts.Cursor, "cursor", "", "page cursor for logs")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "assign",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.Cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer redisClient.Close()
	}

	eng, err := engine.New(engine.Params{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Redis:  redisClient,
	})
	requireResource(ctx, logg, "assignment engine", err)

	if err := execute(ctx, eng.Assignment, eng.Audit, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "assign %s failed: %v\n", opts.Cmd, err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
