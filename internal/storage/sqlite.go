//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"adversary/internal/model"

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

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, result model.AnalysisResult) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeAnalysis(result)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO analyses (run_id, target, started_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			target = excluded.target,
			started_at = excluded.started_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, result.RunID, result.Target, result.StartedAt.UnixNano(), result.SchemaVersion, result.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, runID string) (model.AnalysisResult, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AnalysisResult{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM analyses WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AnalysisResult{}, false, nil
		}
		return model.AnalysisResult{}, false, err
	}

	result, err := DecodeAnalysis(payload)
	if err != nil {
		return model.AnalysisResult{}, false, fmt.Errorf("decode analysis %s: %w", runID, err)
	}
	return result, true, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context) ([]model.AnalysisResult, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM analyses ORDER BY started_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnalysisResult
	for rows.Next() {
		var runID string
		var payload []byte
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		result, err := DecodeAnalysis(payload)
		if err != nil {
			return nil, fmt.Errorf("decode analysis %s: %w", runID, err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveVulnerabilities(ctx context.Context, runID string, vulns []model.Vulnerability) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vulnerabilities WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for _, vuln := range vulns {
		payload, err := EncodeVulnerability(vuln)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vulnerabilities (id, run_id, attack_vector, severity, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				run_id = excluded.run_id,
				attack_vector = excluded.attack_vector,
				severity = excluded.severity,
				payload = excluded.payload
		`, vuln.ID, runID, string(vuln.AttackVector), vuln.Severity(), payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetVulnerabilities(ctx context.Context, runID string) ([]model.Vulnerability, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var known int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT run_id FROM analyses WHERE run_id = ?
			UNION SELECT run_id FROM vulnerabilities WHERE run_id = ?
		)`, runID, runID).Scan(&known); err != nil {
		return nil, false, err
	}
	if known == 0 {
		return nil, false, nil
	}

	vulns, err := s.queryVulnerabilities(ctx, db, `SELECT id, payload FROM vulnerabilities WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, false, err
	}
	return vulns, true, nil
}

func (s *SQLiteStore) ListVulnerabilities(ctx context.Context) ([]model.Vulnerability, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return s.queryVulnerabilities(ctx, db, `SELECT id, payload FROM vulnerabilities ORDER BY rowid`)
}

func (s *SQLiteStore) queryVulnerabilities(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Vulnerability, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vulnerability
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		vuln, err := DecodeVulnerability(payload)
		if err != nil {
			return nil, fmt.Errorf("decode vulnerability %s: %w", id, err)
		}
		out = append(out, vuln)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendTrainingSample(ctx context.Context, sample model.TrainingSample) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTrainingSample(sample)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO training_samples (target, payload) VALUES (?, ?)`, sample.Target, payload)
	return err
}

func (s *SQLiteStore) ListTrainingSamples(ctx context.Context) ([]model.TrainingSample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM training_samples ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrainingSample
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		sample, err := DecodeTrainingSample(payload)
		if err != nil {
			return nil, fmt.Errorf("decode training sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
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
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analyses (
			run_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS vulnerabilities (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			attack_vector TEXT NOT NULL,
			severity REAL NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS vulnerabilities_run_id ON vulnerabilities (run_id);
		CREATE TABLE IF NOT EXISTS training_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
