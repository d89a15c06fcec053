// Package store persists diagram documents in SQLite, one row per
// workspace and station.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"
)

// KeyPrefix is shared by every stored diagram key.
const KeyPrefix = "rw-grilla-unifilar"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var (
	// ErrNotFound is returned when no document is stored under a key.
	ErrNotFound = errors.New("diagram not found")
	// ErrNoKey is returned when the workspace or station is missing.
	ErrNoKey = errors.New("workspace and station are required")
)

// Key builds the storage key for one station of a workspace. Both parts
// are required.
func Key(workspace, station string) (string, error) {
	workspace, station = strings.TrimSpace(workspace), strings.TrimSpace(station)
	if workspace == "" || station == "" {
		return "", ErrNoKey
	}
	return KeyPrefix + "-" + workspace + "-" + station, nil
}

// DiagramStore is a key-value table of encoded diagrams.
type DiagramStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	log    logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Open initialises the database at path, creating parent directories.
func Open(path string, log logging.Logger) (*DiagramStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &DiagramStore{
		db:     db,
		path:   path,
		log:    logging.OrNoop(log),
		tracer: otel.Tracer("github.com/signalsfoundry/unifilar/internal/store"),
		now:    time.Now,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DiagramStore) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS diagrams (
		key        TEXT PRIMARY KEY,
		document   TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create diagrams table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *DiagramStore) Close() error {
	return s.db.Close()
}

// Save stores d under key. An empty diagram deletes the row instead.
func (s *DiagramStore) Save(ctx context.Context, key string, d core.Diagram) error {
	ctx, span := s.tracer.Start(ctx, "store.save", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if d.IsEmpty() {
		return s.Delete(ctx, key)
	}
	data, err := core.EncodeDiagram(d)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode diagram: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagrams (key, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		key, string(data), s.now().UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save diagram %q: %w", key, err)
	}
	span.SetAttributes(attribute.Int("bytes", len(data)))
	return nil
}

// Get returns the raw document stored under key.
func (s *DiagramStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM diagrams WHERE key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load diagram %q: %w", key, err)
	}
	return []byte(doc), nil
}

// Load decodes the document stored under key. A corrupt document yields
// the empty diagram and an error wrapping core.ErrCorruptDiagram.
func (s *DiagramStore) Load(ctx context.Context, key string) (core.Diagram, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return core.EmptyDiagram(), err
	}
	return core.DecodeDiagram(data)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *DiagramStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM diagrams WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete diagram %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in order.
func (s *DiagramStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM diagrams ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list diagrams: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PersistHook returns a DiagramState persistence hook that saves every
// snapshot under key. Failures are logged.
func (s *DiagramStore) PersistHook(key string) sim.PersistFunc {
	return func(ctx context.Context, d core.Diagram) {
		if err := s.Save(ctx, key, d); err != nil {
			logging.FromContext(ctx, s.log).Error(ctx, "persist diagram failed",
				logging.String("key", key),
				logging.Err(err),
			)
		}
	}
}
