package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"predictive-maintenance/machine"
	"predictive-maintenance/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// SQLiteStore keeps one profile record per row.
type SQLiteStore struct {
	db *sql.DB
}

var _ machine.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	createProfilesTable := `
    CREATE TABLE IF NOT EXISTS machine_profiles (
        machine_id TEXT PRIMARY KEY,
        record TEXT NOT NULL,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	if _, err := db.Exec(createProfilesTable); err != nil {
		return fmt.Errorf("error creating machine_profiles table: %s", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	if err := machine.ValidateID(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO machine_profiles (machine_id, record, updated_at) VALUES (?, ?, ?)",
		key, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("error storing profile %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]machine.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT machine_id, record FROM machine_profiles ORDER BY machine_id")
	if err != nil {
		return nil, fmt.Errorf("error querying profiles: %w", err)
	}
	defer rows.Close()

	var records []machine.StoredRecord
	for rows.Next() {
		var key, record string
		if err := rows.Scan(&key, &record); err != nil {
			return nil, fmt.Errorf("error scanning profile row: %w", err)
		}
		records = append(records, machine.StoredRecord{Key: key, Data: []byte(record)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return records, nil
}

// ReplaceAll swaps the population inside one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, records []machine.StoredRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM machine_profiles"); err != nil {
		tx.Rollback()
		return fmt.Errorf("error clearing profiles: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO machine_profiles (machine_id, record, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		if err := machine.ValidateID(rec.Key); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.Key, string(rec.Data), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("error executing statement: %s", err)
		}
	}

	return tx.Commit()
}
