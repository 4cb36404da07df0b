package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"outpost/internal/game"
	"outpost/internal/store"
)

// AppConfig carries the process-level knobs set from flags in main.
type AppConfig struct {
	Addr    string
	DBPath  string
	LogPath string
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Addr:   ":8080",
		DBPath: "outpost.db",
	}
}

// App owns the long-lived process resources: the store, the hub, the
// HTTP listener, and the idle-room sweeper.
type App struct {
	cfg AppConfig
	log *zap.SugaredLogger

	st  *store.Store
	hub *game.Hub
	srv *http.Server

	stopSweep chan struct{}
}

// StartApp opens the database, applies the shared migrations (resume
// tokens are redeemed before any room exists, so the core tables must
// be in place up front), and starts serving.
func StartApp(cfg AppConfig, log *zap.SugaredLogger) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.ApplyMigrations("core", store.CoreMigrations()); err != nil {
		st.Close()
		return nil, err
	}

	hub := game.NewHub(st, log)
	app := &App{
		cfg:       cfg,
		log:       log,
		st:        st,
		hub:       hub,
		stopSweep: make(chan struct{}),
	}
	app.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      newMux(hub, log),
		ReadTimeout:  0, // websocket connections stay open
		WriteTimeout: 0,
	}

	go app.sweepIdleRooms()
	go func() {
		log.Infow("listening", "addr", cfg.Addr)
		if err := app.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server exited", "err", err)
		}
	}()
	return app, nil
}

func (a *App) sweepIdleRooms() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopSweep:
			return
		case <-ticker.C:
			a.hub.CleanupIdleRooms()
		}
	}
}

// Shutdown stops accepting connections and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	close(a.stopSweep)
	err := a.srv.Shutdown(ctx)
	if cerr := a.st.Close(); err == nil {
		err = cerr
	}
	return err
}
