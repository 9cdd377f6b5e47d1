package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/IshaanNene/sitecrawl/internal/types"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore mirrors pages into a SQLite or PostgreSQL table keyed by URL.
type SQLStore struct {
	db     *sql.DB
	driver string
	table  string
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewSQLStore opens dsn with driver ("sqlite" or "postgres") and creates
// the pages table if needed.
func NewSQLStore(ctx context.Context, driver, dsn, table string, logger *slog.Logger) (*SQLStore, error) {
	if table == "" {
		table = "pages"
	}
	if !tableName.MatchString(table) {
		return nil, &types.StorageError{Backend: driver, Err: fmt.Errorf("invalid table name %q", table)}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &types.StorageError{Backend: driver, Err: fmt.Errorf("open: %w", err)}
	}

	if driver == "sqlite" {
		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		table:  table,
		logger: logger.With("component", driver+"_storage"),
	}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, &types.StorageError{Backend: driver, Err: err}
	}
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if s.driver == "sqlite" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		url        TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		crawled_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *SQLStore) Name() string { return s.driver }

// Store upserts pages in one transaction.
func (s *SQLStore) Store(ctx context.Context, pages []types.Page) error {
	if len(pages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: s.driver, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO `+s.table+` (url, title, content, crawled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			crawled_at = excluded.crawled_at`))
	if err != nil {
		return &types.StorageError{Backend: s.driver, Err: fmt.Errorf("prepare: %w", err)}
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, page := range pages {
		if _, err := stmt.ExecContext(ctx, page.URL, page.Title, page.Content, now); err != nil {
			return &types.StorageError{Backend: s.driver, Err: fmt.Errorf("upsert %s: %w", page.URL, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &types.StorageError{Backend: s.driver, Err: fmt.Errorf("commit: %w", err)}
	}

	s.count += len(pages)
	s.logger.Debug("pages stored", "count", len(pages), "total", s.count)
	return nil
}

func (s *SQLStore) Close() error {
	s.logger.Info("storage closing", "total_pages", s.count)
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
