package contentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/meta"
)

// SQLiteStore keeps content objects in a SQLite database.
// Metadata documents are stored as JSON text; versions are indexed by
// content id and commit time.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the store at path.
// An empty path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: an in-memory database lives and dies with its
	// connection, and a single writer avoids lock contention on disk.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS metadata (
		library TEXT NOT NULL,
		hash    TEXT NOT NULL,
		doc     TEXT NOT NULL,
		PRIMARY KEY (library, hash)
	);

	CREATE TABLE IF NOT EXISTS versions (
		content      TEXT NOT NULL,
		hash         TEXT NOT NULL,
		committed_at INTEGER NOT NULL,
		latest       INTEGER NOT NULL DEFAULT 0,
		seq          INTEGER NOT NULL,
		PRIMARY KEY (content, hash)
	);

	CREATE INDEX IF NOT EXISTS idx_versions_content
		ON versions(content, committed_at DESC);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put adds or replaces one object version.
func (s *SQLiteStore) Put(ctx context.Context, obj Object) error {
	return s.PutAll(ctx, []Object{obj})
}

// PutAll adds or replaces object versions in one transaction.
func (s *SQLiteStore) PutAll(ctx context.Context, objs []Object) error {
	if len(objs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fierrors.New(fierrors.ErrCodeHostCall, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	metaStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO metadata (library, hash, doc) VALUES (?, ?, ?)`)
	if err != nil {
		return storeError("prepare metadata insert", err)
	}
	defer metaStmt.Close()

	verStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO versions (content, hash, committed_at, latest, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM versions))
		ON CONFLICT(content, hash) DO UPDATE SET
			committed_at = excluded.committed_at,
			latest = excluded.latest`)
	if err != nil {
		return storeError("prepare version insert", err)
	}
	defer verStmt.Close()

	for _, obj := range objs {
		doc, err := json.Marshal(obj.Meta)
		if err != nil {
			return fierrors.New(fierrors.ErrCodeMalformedMetadata,
				fmt.Sprintf("cannot encode metadata of %s/%s", obj.Library, obj.Hash), err)
		}
		if _, err := metaStmt.ExecContext(ctx, obj.Library, obj.Hash, string(doc)); err != nil {
			return storeError("insert metadata", err)
		}
		if obj.Content == "" {
			continue
		}
		latest := 0
		if obj.Latest {
			latest = 1
		}
		if _, err := verStmt.ExecContext(ctx, obj.Content, obj.Hash, obj.CommittedAt.UnixNano(), latest); err != nil {
			return storeError("insert version", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit", err)
	}
	return nil
}

// ImportSnapshot loads every object of a snapshot and returns how many were imported.
func (s *SQLiteStore) ImportSnapshot(ctx context.Context, r io.Reader) (int, error) {
	snap, err := ReadSnapshot(r)
	if err != nil {
		return 0, err
	}
	if err := s.PutAll(ctx, snap.Objects); err != nil {
		return 0, err
	}
	slog.Debug("snapshot_imported",
		slog.String("path", s.path),
		slog.Int("objects", len(snap.Objects)))
	return len(snap.Objects), nil
}

// GetMetadata implements Store.
func (s *SQLiteStore) GetMetadata(ctx context.Context, library, hash, subpath string) (meta.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fierrors.New(fierrors.ErrCodeHostCall, "store is closed", nil)
	}

	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM metadata WHERE library = ? AND hash = ?`, library, hash).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fierrors.NotFound(library, hash)
	}
	if err != nil {
		return nil, storeError("get metadata", err)
	}

	v, err := meta.DecodeBytes([]byte(doc))
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeMalformedMetadata,
			fmt.Sprintf("stored metadata of %s/%s is not JSON", library, hash), err)
	}
	return narrow(v, library, hash, subpath)
}

// GetVersions implements Store. Ties on commit time keep insertion order.
func (s *SQLiteStore) GetVersions(ctx context.Context, contentID string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fierrors.New(fierrors.ErrCodeHostCall, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, committed_at, latest FROM versions
		WHERE content = ?
		ORDER BY committed_at DESC, seq ASC`, contentID)
	if err != nil {
		return nil, storeError("get versions", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var (
			v      Version
			nanos  int64
			latest int
		)
		if err := rows.Scan(&v.Hash, &nanos, &latest); err != nil {
			return nil, storeError("scan version", err)
		}
		v.CommittedAt = time.Unix(0, nanos).UTC()
		v.Latest = latest != 0
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate versions", err)
	}
	if len(out) == 0 {
		return nil, fierrors.New(fierrors.ErrCodeObjectNotFound,
			"content "+contentID+" not found", nil).WithDetail("content", contentID)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// storeError classifies a database failure. Context errors pass through so
// that cancellation is never retried.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fierrors.New(fierrors.ErrCodeStoreIO, op+" failed", err).WithDetail("op", op)
}
