package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/carapace-ai/carapace/internal/model"
)

// SQLiteStore is the disk-backed store. A single engine instance owns
// one event log, so the next sequence number is tracked in memory under
// a mutex and the table is only ever inserted into.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	last model.EventID
}

// OpenSQLite opens (or creates) an event log at path and recovers the
// sequence tail.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// The store is single-writer; one connection keeps sequence
	// assignment and inserts on the same session.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.recoverTail(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		trust TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS event_labels (
		event_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		UNIQUE(event_id, label)
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) recoverTail() error {
	var last sql.NullInt64
	row := s.db.QueryRowContext(context.Background(), `SELECT MAX(id) FROM events`)
	if err := row.Scan(&last); err != nil {
		return fmt.Errorf("store: recover sequence tail: %w", err)
	}
	if last.Valid {
		var count int64
		row := s.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM events`)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("store: recover sequence tail: %w", err)
		}
		// Ids must be dense 1..N; a gap means the log was edited.
		if count != last.Int64 {
			return fmt.Errorf("store: %d events but max id %d: %w", count, last.Int64, model.ErrCorrupt)
		}
		s.last = model.EventID(last.Int64)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, req AppendRequest) (model.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.last + 1
	for _, src := range req.Sources {
		if src == 0 || src >= next {
			return 0, fmt.Errorf("store: input source %d: %w", src, model.ErrUnknownEvent)
		}
	}

	meta, err := json.Marshal(orEmptyMeta(req.Metadata))
	if err != nil {
		return 0, fmt.Errorf("store: marshal metadata: %w", err)
	}
	sources, err := json.Marshal(orEmptySources(req.Sources))
	if err != nil {
		return 0, fmt.Errorf("store: marshal sources: %w", err)
	}

	createdAt := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, trust, content, metadata, created_at, sources) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(next), string(req.Kind), string(req.Trust), req.Content,
		string(meta), createdAt.Format(time.RFC3339Nano), string(sources),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}
	s.last = next
	return next, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id model.EventID) (model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, trust, content, metadata, created_at, sources FROM events WHERE id = ?`,
		int64(id),
	)

	var (
		rawID      int64
		kind       string
		trust      string
		content    string
		metaJSON   string
		createdRaw string
		srcJSON    string
	)
	if err := row.Scan(&rawID, &kind, &trust, &content, &metaJSON, &createdRaw, &srcJSON); err != nil {
		if err == sql.ErrNoRows {
			return model.Event{}, fmt.Errorf("store: event %d: %w", id, model.ErrNotFound)
		}
		return model.Event{}, fmt.Errorf("store: get event %d: %w", id, err)
	}

	var meta map[string]string
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return model.Event{}, fmt.Errorf("store: event %d metadata: %w", id, model.ErrCorrupt)
	}
	var sources []model.EventID
	if err := json.Unmarshal([]byte(srcJSON), &sources); err != nil {
		return model.Event{}, fmt.Errorf("store: event %d sources: %w", id, model.ErrCorrupt)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: event %d timestamp: %w", id, model.ErrCorrupt)
	}

	ev := model.Event{
		ID:        model.EventID(rawID),
		Kind:      model.EventKind(kind),
		Trust:     model.TrustLevel(trust),
		Content:   content,
		CreatedAt: createdAt,
		Sources:   sources,
	}
	if len(meta) > 0 {
		ev.Metadata = meta
	}
	return ev, nil
}

func (s *SQLiteStore) AddLabel(ctx context.Context, id model.EventID, label model.TrustLevel) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO event_labels (event_id, label) VALUES (?, ?)`,
		int64(id), string(label),
	)
	if err != nil {
		return fmt.Errorf("store: add label: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Labels(ctx context.Context, id model.EventID) ([]model.TrustLevel, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT label FROM event_labels WHERE event_id = ? ORDER BY rowid`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("store: labels of %d: %w", id, err)
	}
	defer rows.Close()

	var labels []model.TrustLevel
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("store: labels of %d: %w", id, err)
		}
		labels = append(labels, model.TrustLevel(label))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: labels of %d: %w", id, err)
	}
	return labels, nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.last), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exists(ctx context.Context, id model.EventID) error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if id == 0 || id > last {
		return fmt.Errorf("store: event %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func orEmptyMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySources(ids []model.EventID) []model.EventID {
	if ids == nil {
		return []model.EventID{}
	}
	return ids
}
