//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"nervesim/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveFascicle(ctx context.Context, fascicle model.Fascicle) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeFascicle(fascicle)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO fascicles (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, fascicle.ID, CurrentSchemaVersion, CurrentCodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetFascicle(ctx context.Context, id string) (model.Fascicle, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Fascicle{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM fascicles WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Fascicle{}, false, nil
		}
		return model.Fascicle{}, false, err
	}

	fascicle, err := DecodeFascicle(payload)
	if err != nil {
		return model.Fascicle{}, false, fmt.Errorf("decode fascicle %s: %w", id, err)
	}
	return fascicle, true, nil
}

func (s *SQLiteStore) ListFascicles(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM fascicles ORDER BY id`)
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

func (s *SQLiteStore) SaveAxonRecord(ctx context.Context, record model.AxonRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeAxonRecord(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO axon_records (fascicle_id, axon_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(fascicle_id, axon_id) DO UPDATE SET
			payload = excluded.payload
	`, record.FascicleID, record.Result.ID, payload)
	return err
}

func (s *SQLiteStore) GetAxonRecord(ctx context.Context, fascicleID string, axonID int) (model.AxonRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AxonRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM axon_records WHERE fascicle_id = ? AND axon_id = ?`, fascicleID, axonID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AxonRecord{}, false, nil
		}
		return model.AxonRecord{}, false, err
	}

	record, err := DecodeAxonRecord(payload)
	if err != nil {
		return model.AxonRecord{}, false, fmt.Errorf("decode axon %d of %s: %w", axonID, fascicleID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListAxonRecords(ctx context.Context, fascicleID string) ([]int, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT axon_id FROM axon_records WHERE fascicle_id = ? ORDER BY axon_id`, fascicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result model.FascicleResult) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO results (fascicle_id, payload)
		VALUES (?, ?)
		ON CONFLICT(fascicle_id) DO UPDATE SET
			payload = excluded.payload
	`, result.FascicleID, payload)
	return err
}

func (s *SQLiteStore) GetResult(ctx context.Context, fascicleID string) (model.FascicleResult, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.FascicleResult{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM results WHERE fascicle_id = ?`, fascicleID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FascicleResult{}, false, nil
		}
		return model.FascicleResult{}, false, err
	}

	result, err := DecodeResult(payload)
	if err != nil {
		return model.FascicleResult{}, false, fmt.Errorf("decode result %s: %w", fascicleID, err)
	}
	return result, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fascicles (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS axon_records (
			fascicle_id TEXT NOT NULL,
			axon_id INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (fascicle_id, axon_id)
		);
		CREATE TABLE IF NOT EXISTS results (
			fascicle_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
