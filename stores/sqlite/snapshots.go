package sqlite

import (
	"context"
	"database/sql"
	stdlog "log"
	"time"

	"bpmn-collab/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type snapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore keeps the latest snapshot in a one-row table.
func NewSnapshotStore(dataSourceName string) core.SnapshotStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	sts := `CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(sts); err != nil {
		stdlog.Fatal(err)
	}

	return &snapshotStore{db}
}

func (s *snapshotStore) Load(ctx context.Context) (string, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshot WHERE id = 1").Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			logrus.Info("No persisted snapshot found")
			return "", false, nil
		}
		logrus.WithField("error", err).Error("Failed to load snapshot")
		return "", false, err
	}

	logrus.WithField("snapshot_length", len(data)).Info("Snapshot loaded")
	return string(data), true, nil
}

func (s *snapshotStore) Save(ctx context.Context, xml string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		[]byte(xml), time.Now().UnixMilli())
	if err != nil {
		logrus.WithField("error", err).Error("Failed to persist snapshot")
		return err
	}

	logrus.WithField("snapshot_length", len(xml)).Debug("Snapshot saved")
	return nil
}
