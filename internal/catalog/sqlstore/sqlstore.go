// Package sqlstore provides the SQL-backed catalog store. SQLite
// (modernc.org/sqlite) is the default; postgres:// URLs select lib/pq.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/catalog/sqlstore/migrations"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
)

// Store is a SQL catalog store.
type Store struct {
	db *sql.DB
	d  dialect
}

const gameColumns = `id, storage_key, mode, title, description, filename, directory_name, html_code,
	content_hash, author, ai_model, prompt, category_id, edit_guard, rating, rating_count, views, created_at`

// Open connects to databaseURL, applies migrations and returns the store.
//
//	sqlite:///abs/path.db, sqlite://./rel.db, file:games.db, games.db -> SQLite
//	postgres://..., postgresql://...                             -> PostgreSQL
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	d, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == sqliteDialect {
		// One writer at a time; WAL lets readers proceed.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logging.Info("catalog opened", logging.String("dialect", d.name))
	return &Store{db: db, d: d}, nil
}

func parseURL(databaseURL string) (dialect, string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return dialect{}, "", fmt.Errorf("database url is required")
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return postgresDialect, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		u = strings.TrimPrefix(u, "sqlite://")
	case strings.HasPrefix(u, "file:"):
		u = strings.TrimPrefix(u, "file:")
	case strings.Contains(u, "://"):
		return dialect{}, "", fmt.Errorf("unsupported database url scheme in %q", databaseURL)
	}
	if u == "" {
		return dialect{}, "", fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(u) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	return sqliteDialect, dsn, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Create inserts a record.
func (s *Store) Create(ctx context.Context, g *catalog.Game) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_game", time.Since(start)) }()

	g.ApplyDefaults()
	key := g.StorageKey()
	if key == "" {
		return fmt.Errorf("storage key is required")
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO games (storage_key, mode, title, description, filename, directory_name, html_code,
			content_hash, author, ai_model, prompt, category_id, edit_guard, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		key, string(g.Mode), g.Title, g.Description, nullable(g.Filename), nullable(g.Directory), g.HTMLCode,
		g.ContentHash, g.Author, g.AIModel, g.Prompt, g.CategoryID, g.EditGuard, g.CreatedAt.UnixMilli(),
	).Scan(&g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", key, catalog.ErrDuplicate)
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// Get returns a record by ID.
func (s *Store) Get(ctx context.Context, id int64) (*catalog.Game, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_game", time.Since(start)) }()

	return s.queryOne(ctx, "SELECT "+gameColumns+" FROM games WHERE id = ?", id)
}

// FindByFilename returns the single-file record stored under filename.
func (s *Store) FindByFilename(ctx context.Context, filename string) (*catalog.Game, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_by_filename", time.Since(start)) }()

	return s.queryOne(ctx, "SELECT "+gameColumns+" FROM games WHERE filename = ?", filename)
}

// FindByDirectory returns the multi-file record stored under dir.
func (s *Store) FindByDirectory(ctx context.Context, dir string) (*catalog.Game, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_by_directory", time.Since(start)) }()

	return s.queryOne(ctx, "SELECT "+gameColumns+" FROM games WHERE directory_name = ?", dir)
}

// UpdateContent replaces the cached document and its hash. No other column changes.
func (s *Store) UpdateContent(ctx context.Context, id int64, html, hash string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_content", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, s.d.rebind(
		"UPDATE games SET html_code = ?, content_hash = ? WHERE id = ?"), html, hash, id)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return expectOne(res, id)
}

// List returns records newest first. Cached documents and guards are omitted.
func (s *Store) List(ctx context.Context, limit int) ([]catalog.Game, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_games", time.Since(start)) }()

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		"SELECT "+gameColumns+" FROM games ORDER BY created_at DESC, id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []catalog.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		g.HTMLCode = ""
		g.EditGuard = ""
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return games, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_game", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, s.d.rebind("DELETE FROM games WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return expectOne(res, id)
}

// IncrementViews bumps the play counter.
func (s *Store) IncrementViews(ctx context.Context, id int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("increment_views", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, s.d.rebind("UPDATE games SET views = views + 1 WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("game %d: %w", id, catalog.ErrNotFound)
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, arg any) (*catalog.Game, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(query), arg)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return g, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (*catalog.Game, error) {
	var (
		g         catalog.Game
		key, mode string
		filename  sql.NullString
		dir       sql.NullString
		createdAt int64
	)
	err := row.Scan(&g.ID, &key, &mode, &g.Title, &g.Description, &filename, &dir, &g.HTMLCode,
		&g.ContentHash, &g.Author, &g.AIModel, &g.Prompt, &g.CategoryID, &g.EditGuard,
		&g.Rating, &g.RatingCount, &g.Views, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan game: %w", err)
	}
	g.Mode = catalog.Mode(mode)
	g.Filename = filename.String
	g.Directory = dir.String
	g.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &g, nil
}

var _ catalog.Store = (*Store)(nil)
