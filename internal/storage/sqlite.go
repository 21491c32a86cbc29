package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the local cache: last fetched snapshots, unsaved draft buffers and
// the activity log. It never has authority over server data.
type Store struct {
	db *sql.DB
}

// Open opens missionlog.db under dataDir, creating the directory if needed,
// and brings the schema up to date. dataDir ":memory:" keeps everything in
// memory.
func Open(dataDir string) (*Store, error) {
	path := dataDir
	if dataDir != memoryDir {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: data dir: %w", err)
		}
		path = filepath.Join(dataDir, "missionlog.db")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// One writer; an in-memory database also lives and dies with its connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	return s, nil
}

const memoryDir = ":memory:"

func dsn(path string) string {
	q := url.Values{"_pragma": {"busy_timeout(5000)", "journal_mode(WAL)"}}
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Snapshots ---

// SaveSnapshot stores v as JSON under key, replacing any previous value.
func (s *Store) SaveSnapshot(key string, v any, fetchedAt time.Time) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding snapshot %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (key, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key, string(payload), fetchedAt.UTC().Format(timeLayout),
	)
	return err
}

// LoadSnapshot decodes the snapshot stored under key into v and returns when
// it was fetched.
func (s *Store) LoadSnapshot(key string, v any) (time.Time, error) {
	var payload, fetchedAt string
	err := s.db.QueryRow("SELECT payload, fetched_at FROM snapshots WHERE key = ?", key).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return time.Time{}, fmt.Errorf("decoding snapshot %q: %w", key, err)
	}
	t, err := time.Parse(timeLayout, fetchedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing fetched_at: %w", err)
	}
	return t, nil
}

// --- Draft buffers ---

// PutDraft stores the unsaved state of an editing session.
func (s *Store) PutDraft(key, sessionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding draft %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO draft_buffers (key, session_id, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET session_id = excluded.session_id, payload = excluded.payload, updated_at = excluded.updated_at`,
		key, sessionID, string(payload), time.Now().UTC().Format(timeLayout),
	)
	return err
}

// GetDraft decodes the buffer stored under key into v.
func (s *Store) GetDraft(key string, v any) error {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM draft_buffers WHERE key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decoding draft %q: %w", key, err)
	}
	return nil
}

// DeleteDraft removes a buffer. Deleting a missing key is not an error.
func (s *Store) DeleteDraft(key string) error {
	_, err := s.db.Exec("DELETE FROM draft_buffers WHERE key = ?", key)
	return err
}

// DraftKeys lists the keys of all buffered drafts, oldest first.
func (s *Store) DraftKeys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM draft_buffers ORDER BY updated_at ASC")
	if err != nil {
		return nil, err
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

// --- Activity ---

func (s *Store) RecordActivity(a Activity) error {
	var newLevel sql.NullInt64
	if a.NewLevel != nil {
		newLevel = sql.NullInt64{Int64: int64(*a.NewLevel), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO activity (id, created_at, kind, target_id, xp_gained, leveled_up, new_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.UTC().Format(timeLayout), a.Kind, a.TargetID, a.XPGained, a.LeveledUp, newLevel,
	)
	return err
}

// RecentActivity returns up to limit records, newest first.
func (s *Store) RecentActivity(limit int) ([]Activity, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, kind, target_id, xp_gained, leveled_up, new_level
		FROM activity ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Activity
	for rows.Next() {
		var a Activity
		var createdAt string
		var newLevel sql.NullInt64
		if err := rows.Scan(&a.ID, &createdAt, &a.Kind, &a.TargetID, &a.XPGained, &a.LeveledUp, &newLevel); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		if newLevel.Valid {
			n := int(newLevel.Int64)
			a.NewLevel = &n
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
