package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// PageStore is a mirror backend that receives pages as they are collected.
type PageStore interface {
	// Store upserts a batch of pages keyed by URL.
	Store(ctx context.Context, pages []types.Page) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// NewMirror opens the backend named by cfg.Mirror. It returns nil for
// "none" or an empty mirror setting.
func NewMirror(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (PageStore, error) {
	var (
		store PageStore
		err   error
	)
	switch backend := strings.ToLower(cfg.Mirror); backend {
	case "", "none":
		return nil, nil
	case "mongodb":
		store, err = NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Collection, logger)
	case "sqlite", "postgres":
		store, err = NewSQLStore(ctx, backend, cfg.DSN, cfg.Collection, logger)
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", cfg.Mirror)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
