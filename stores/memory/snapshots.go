package memory

import (
	"context"
	"sync"

	"bpmn-collab/core"

	"github.com/sirupsen/logrus"
)

type snapshotStore struct {
	mu     sync.RWMutex
	latest string
	saved  bool
}

func NewSnapshotStore() core.SnapshotStore {
	return &snapshotStore{}
}

func (s *snapshotStore) Load(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.saved, nil
}

func (s *snapshotStore) Save(ctx context.Context, xml string) error {
	s.mu.Lock()
	s.latest = xml
	s.saved = true
	s.mu.Unlock()

	logrus.WithField("snapshot_length", len(xml)).Debug("Snapshot saved")
	return nil
}
