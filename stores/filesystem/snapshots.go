package filesystem

import (
	"context"
	stdlog "log"
	"os"
	"path/filepath"

	"bpmn-collab/core"

	"github.com/sirupsen/logrus"
)

const snapshotFileName = "latest.bpmn"

type snapshotStore struct {
	basePath string
}

// NewSnapshotStore keeps the latest snapshot in a single file under
// basePath.
func NewSnapshotStore(basePath string) core.SnapshotStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		stdlog.Fatalf("failed to create base directory: %v", err)
	}
	return &snapshotStore{basePath: basePath}
}

func (s *snapshotStore) snapshotPath() string {
	return filepath.Join(s.basePath, snapshotFileName)
}

func (s *snapshotStore) Load(ctx context.Context) (string, bool, error) {
	filePath := s.snapshotPath()
	log := logrus.WithField("file_path", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("No persisted snapshot found")
			return "", false, nil
		}
		log.WithError(err).Error("Failed to read snapshot file")
		return "", false, err
	}

	log.WithField("snapshot_length", len(data)).Info("Snapshot loaded")
	return string(data), true, nil
}

func (s *snapshotStore) Save(ctx context.Context, xml string) error {
	filePath := s.snapshotPath()
	log := logrus.WithFields(logrus.Fields{
		"file_path":       filePath,
		"snapshot_length": len(xml),
	})

	if err := os.WriteFile(filePath, []byte(xml), 0644); err != nil {
		log.WithError(err).Error("Failed to write snapshot file")
		return err
	}

	log.Debug("Snapshot saved")
	return nil
}
