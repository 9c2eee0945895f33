package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
	"chorekeep/internal/config"
	"chorekeep/internal/family"
	"chorekeep/internal/feed"
	"chorekeep/internal/generate"
	"chorekeep/internal/genlock"
	"chorekeep/internal/server"
	"chorekeep/internal/store"
)

func main() {
	logger := log.Default()

	cfg, err := config.Load("chorekeep.yml")
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	config.FromEnv(cfg)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer closeStore()

	users, err := loadUsers(cfg)
	if err != nil {
		logger.Fatalf("load users: %v", err)
	}

	clk := clock.RealClock{}
	locks := genlock.NewRegistry(cfg.Generation.LockTTL(), clk, logger)
	disp := bus.NewDispatcher(cfg.Sync.DedupeWindow(), clk, logger)

	coord := &generate.Coordinator{
		Templates:         st,
		Instances:         st,
		Users:             users,
		Locks:             locks,
		Clock:             clk,
		Logger:            logger,
		MaxDailyTemplates: cfg.Generation.MaxDailyTemplates,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go locks.Run(ctx, cfg.Generation.SweepInterval())

	set := feed.NewSet(feed.Options{
		Store:        st,
		Dispatcher:   disp,
		Hub:          feed.NewHub(),
		ProcessID:    uuid.NewString(),
		PollInterval: cfg.Sync.PollInterval(),
		EchoWindow:   cfg.Sync.EchoWindow(),
		Clock:        clk,
		Logger:       logger,
	})
	set.Start(ctx)
	defer set.Close()

	handler, err := server.NewHandler(server.Options{
		Config:      cfg,
		Store:       st,
		Users:       users,
		Coordinator: coord,
		Dispatcher:  disp,
		Feed:        set,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("build server: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (backend=%s)", cfg.Server.Addr, cfg.Storage.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, nil, err
		}
		s, err := store.OpenSQLite(filepath.Join(cfg.Storage.DataDir, "chorekeep.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, errors.New("unknown storage backend: " + cfg.Storage.Backend)
	}
}

// loadUsers reads the account roster. A missing file is not fatal: the
// engine still serves ad-hoc tasks, it just cannot fan out generation.
func loadUsers(cfg *config.Config) (family.Repo, error) {
	path := filepath.Join(cfg.Storage.DataDir, "users.yml")
	repo, err := family.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return family.NewMemoryRepo(), nil
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}
