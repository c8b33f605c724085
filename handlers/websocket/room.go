package websocket

import (
	"context"
	"sort"
	"sync"

	"bpmn-collab/core"

	"github.com/sirupsen/logrus"
)

// Room is the authoritative replication point for the one shared document:
// the latest snapshot plus the advisory element-lock table. It holds state
// only; message fan-out is the session's job.
type Room struct {
	mu     sync.RWMutex
	latest string
	locks  map[string]string // element id -> holder client id
	policy core.LockPolicy
	store  core.SnapshotStore
}

// NewRoom seeds the room from the snapshot store when one was persisted,
// falling back to the default diagram.
func NewRoom(ctx context.Context, store core.SnapshotStore, policy core.LockPolicy) *Room {
	latest := core.DefaultDiagramXML
	if xml, ok, err := store.Load(ctx); err != nil {
		logrus.WithField("error", err).Warn("Failed to load persisted snapshot, using seed diagram")
	} else if ok {
		latest = xml
		logrus.WithField("snapshot_length", len(xml)).Info("Room restored from persisted snapshot")
	}

	return &Room{
		latest: latest,
		locks:  make(map[string]string),
		policy: policy,
		store:  store,
	}
}

// ApplyUpdate replaces the current snapshot. No well-formedness validation
// happens here; a malformed payload is the importing client's concern.
// Persistence is best-effort and never fails the update.
func (r *Room) ApplyUpdate(ctx context.Context, senderID, xml string) {
	r.mu.Lock()
	r.latest = xml
	r.mu.Unlock()

	if err := r.store.Save(ctx, xml); err != nil {
		logrus.WithFields(logrus.Fields{
			"error":     err,
			"sender_id": senderID,
		}).Warn("Failed to persist snapshot")
	}

	logrus.WithFields(logrus.Fields{
		"sender_id":       senderID,
		"snapshot_length": len(xml),
	}).Debug("Snapshot replaced")
}

// SetLock records or clears an advisory lock. Locking overwrites any prior
// holder (last-selector-wins, no ownership check); unlocking removes the
// entry no matter who held it.
func (r *Room) SetLock(senderID, elementID string, locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if locked {
		r.locks[elementID] = senderID
	} else {
		delete(r.locks, elementID)
	}
}

// ReleaseLocksHeldBy removes every lock held by the given client and returns
// the affected element ids in stable order. Under the keep policy it leaves
// the table untouched and returns nothing.
func (r *Room) ReleaseLocksHeldBy(clientID string) []string {
	if r.policy == core.KeepLocksOnDisconnect {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	for elementID, holder := range r.locks {
		if holder == clientID {
			released = append(released, elementID)
			delete(r.locks, elementID)
		}
	}
	sort.Strings(released)
	return released
}

// Snapshot returns the current document snapshot.
func (r *Room) Snapshot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Locks returns a copy of the current lock table.
func (r *Room) Locks() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	locks := make(map[string]string, len(r.locks))
	for elementID, holder := range r.locks {
		locks[elementID] = holder
	}
	return locks
}
