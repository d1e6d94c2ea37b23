package confstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"llamad/pkg/types"
)

// Store persists per-model launch configurations in a local SQLite database.
// It backs the manager's ConfigStore contract; the core never assumes the
// storage medium beyond get/put semantics.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS model_configs (
	model_id   TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Open creates (if needed) and opens the store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty store path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored launch configuration for a model id.
// The second return value reports whether a row existed.
func (s *Store) Get(modelID string) (types.LaunchConfig, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT config FROM model_configs WHERE model_id = ?`, modelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.LaunchConfig{}, false, nil
	}
	if err != nil {
		return types.LaunchConfig{}, false, fmt.Errorf("query config: %w", err)
	}
	var cfg types.LaunchConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return types.LaunchConfig{}, false, fmt.Errorf("decode config for %s: %w", modelID, err)
	}
	return cfg, true, nil
}

// Put stores or replaces the launch configuration for a model id.
func (s *Store) Put(modelID string, cfg types.LaunchConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO model_configs (model_id, config, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		modelID, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	return nil
}

// Delete removes the stored configuration for a model id, if present.
func (s *Store) Delete(modelID string) error {
	_, err := s.db.Exec(`DELETE FROM model_configs WHERE model_id = ?`, modelID)
	return err
}

// List returns all stored model ids.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT model_id FROM model_configs ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
