package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outpost/internal/server"
)

func main() {
	cfg := server.DefaultAppConfig()
	addr := flag.String("addr", cfg.Addr, "address to listen on (e.g., 127.0.0.1:8080)")
	dbPath := flag.String("db", cfg.DBPath, "path to the SQLite database file")
	logPath := flag.String("log", "", "path to the log file (empty logs to stderr)")
	flag.Parse()

	cfg.Addr = *addr
	cfg.DBPath = *dbPath
	cfg.LogPath = *logPath

	log, syncLog := server.NewLogger(cfg.LogPath)
	defer syncLog()

	app, err := server.StartApp(cfg, log)
	if err != nil {
		log.Fatalw("startup failed", "err", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Errorw("shutdown error", "err", err)
	}
}
