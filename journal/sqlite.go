package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists position snapshots. It is a separate concern
// from the audit log on purpose: snapshots are periodic state, the
// audit log is the forensic record.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSnapshots(snaps []PositionSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snaps {
		res, err := tx.Exec(
			`INSERT INTO snapshots (time, count) VALUES (?, ?)`,
			snap.Time, snap.Count,
		)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		snapID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("snapshot id: %w", err)
		}

		for _, p := range snap.Positions {
			_, err := tx.Exec(`
				INSERT INTO snapshot_positions
				(snapshot_id, deal_id, epic, direction, size, open_level, opened_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				snapID, p.DealID, p.Epic, string(p.Direction), p.Size, p.OpenLevel, p.OpenedAt,
			)
			if err != nil {
				return fmt.Errorf("insert snapshot position: %w", err)
			}
		}
	}

	return tx.Commit()
}

// CountSnapshots reports the number of persisted snapshots.
func (s *SQLiteStore) CountSnapshots() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ SnapshotStore = (*SQLiteStore)(nil)
