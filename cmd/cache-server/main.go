package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leonardcser/tiercache/internal/config"
	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load(os.Getenv("TIERCACHE_CONFIG"))
	if err != nil {
		panic(err)
	}
	if err := initLogger(cfg); err != nil {
		panic(err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755)
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)
	_ = os.Remove(cfg.SocketPath)

	l, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		logger.Errorf("listen on %s: %v", cfg.SocketPath, err)
		panic(err)
	}
	_ = os.Chmod(cfg.SocketPath, 0o600)

	store, err := kv.Open(cfg.DBPath, kv.Options{Bucket: "tiercache", DefaultTTL: cfg.CacheConfig().Tier2TTL})
	if err != nil {
		logger.Errorf("open store: %v", err)
		panic(err)
	}
	defer store.Close()

	go sweep(ctx, store)

	logger.Infof("cache daemon listening on %s (db %s)", cfg.SocketPath, cfg.DBPath)
	if err := kv.NewServer(store).Serve(ctx, l); err != nil {
		logger.Errorf("cache daemon: %v", err)
	}
	logger.Infof("cache daemon stopped")
}

// sweep periodically drops expired entries so the database does not grow
// with keys nobody reads again.
func sweep(ctx context.Context, store *kv.Store) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := store.Sweep()
			if err != nil {
				logger.Warnf("sweep: %v", err)
				continue
			}
			if n > 0 {
				logger.Debugf("sweep removed %d expired entries", n)
			}
		}
	}
}

func initLogger(cfg config.Config) error {
	var err error
	if cfg.LogPath != "" {
		err = logger.Init(cfg.LogPath)
	} else {
		err = logger.InitFromEnv()
	}
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}
