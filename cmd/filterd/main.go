package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/filterd/internal/api"
	"github.com/seantiz/filterd/internal/config"
	"github.com/seantiz/filterd/internal/graph"
	"github.com/seantiz/filterd/internal/store"
	"github.com/seantiz/filterd/internal/supervisor"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("filterd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"graph_dir", cfg.GraphDir,
		"stop_grace", cfg.StopGrace.String(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	graphs := graph.NewBuiltinRegistry()
	if cfg.GraphDir != "" {
		n, err := graphs.LoadDir(cfg.GraphDir)
		if err != nil {
			log.Fatalf("failed to load graphs: %v", err)
		}
		logger.Info("graphs loaded", "dir", cfg.GraphDir, "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(db, graphs, logger, cfg.StopGrace)
	srv := api.NewServer(cfg.ListenAddr, db, sup, logger)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Run(ctx)
		// A dead listener takes the launcher down with it.
		stop()
	}()

	// The main goroutine is the launcher.
	runErr := sup.Run(ctx)
	stop()
	if err := <-srvErr; err != nil {
		log.Fatalf("server error: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("supervisor error: %v", runErr)
	}
	logger.Info("filterd: stopped")
}
