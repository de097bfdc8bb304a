package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinoosan/mdarchive/internal/config"
	"github.com/tinoosan/mdarchive/internal/downloader"
	"github.com/tinoosan/mdarchive/internal/history"
	"github.com/tinoosan/mdarchive/internal/metrics"
	"github.com/tinoosan/mdarchive/internal/remote"
	"github.com/tinoosan/mdarchive/internal/store"
)

// app is the wired download stack: operation log, document store, remote
// client and the per-category task managers.
type app struct {
	log     *slog.Logger
	history *history.Service
	store   store.Store
	dl      *downloader.Manager
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	metrics.Register()

	hist, err := history.Open(cfg.History.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		_ = hist.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	client, err := remote.New(cfg.RemoteConfig(), log)
	if err != nil {
		_ = st.Close()
		_ = hist.Close()
		return nil, err
	}
	dl, err := downloader.New(downloader.Options{
		Remote:        client,
		Store:         st,
		History:       hist,
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		GCInterval:    cfg.Tasks.GCInterval,
		Download:      cfg.DownloadOptions(),
		Logger:        log,
	})
	if err != nil {
		_ = st.Close()
		_ = hist.Close()
		return nil, err
	}
	log.Info("download stack ready",
		"history_dir", hist.Dir(),
		"store", cfg.Store.Driver,
		"max_concurrent", cfg.Tasks.MaxConcurrent)
	return &app{log: log, history: hist, store: st, dl: dl}, nil
}

// Close stops the task managers before closing what their workflows use.
func (a *app) Close() error {
	a.dl.Stop()
	return errors.Join(a.store.Close(), a.history.Close())
}
