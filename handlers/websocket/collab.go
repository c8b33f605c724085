package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"

	"bpmn-collab/core"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// inboundFrame is one raw frame received from a client, tagged with its
// sender. All frames funnel through the session's single inbound queue so
// updates and lock changes are applied in arrival order.
type inboundFrame struct {
	senderID string
	data     []byte
}

// Session wires the connection registry and the room together and owns all
// mutation of both. Run processes registrations, departures and inbound
// frames on one goroutine, so the effect of each frame is fully applied
// before the next one starts.
type Session struct {
	registry *Registry
	room     *Room

	register   chan *client
	unregister chan *client
	inbound    chan inboundFrame
}

func NewSession(room *Room) *Session {
	return &Session{
		registry:   NewRegistry(),
		room:       room,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundFrame, 64),
	}
}

// Run processes session events until the context is cancelled.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.register:
			s.handleRegister(c)
		case c := <-s.unregister:
			s.disconnect(c.id)
		case frame := <-s.inbound:
			s.handleInbound(ctx, frame)
		}
	}
}

// Users returns the current presence list in connection order.
func (s *Session) Users() []string {
	return s.registry.ClientIDs()
}

// Document returns the current document snapshot.
func (s *Session) Document() string {
	return s.room.Snapshot()
}

// Locks returns the current advisory lock table.
func (s *Session) Locks() map[string]string {
	return s.room.Locks()
}

func (s *Session) handleRegister(c *client) {
	// The connection may already be gone if its pumps raced ahead of us.
	if c.isClosed() {
		return
	}

	if err := s.registry.Add(c); err != nil {
		logrus.WithFields(logrus.Fields{
			"client_id": c.id,
			"error":     err,
		}).Error("Failed to register client")
		c.close()
		return
	}

	logrus.WithField("client_id", c.id).Info("Client connected")

	c.enqueue(encodeMessage(core.NewClientIDMessage(c.id)))
	s.broadcastAll(encodeMessage(core.NewUserListMessage(s.registry.ClientIDs())))

	// Replay current state so a late joiner never renders a blank document.
	c.enqueue(encodeMessage(core.NewUpdateMessage(s.room.Snapshot())))

	locks := s.room.Locks()
	elementIDs := make([]string, 0, len(locks))
	for elementID := range locks {
		elementIDs = append(elementIDs, elementID)
	}
	sort.Strings(elementIDs)
	for _, elementID := range elementIDs {
		c.enqueue(encodeMessage(core.NewElementLockMessage(elementID, locks[elementID], true)))
	}
}

// disconnect removes a client, rebroadcasts presence and applies the lock
// policy. It is idempotent; a second call for the same id is a no-op.
func (s *Session) disconnect(id string) {
	c, removed := s.registry.Remove(id)
	if !removed {
		return
	}
	c.close()

	logrus.WithField("client_id", id).Info("Client disconnected")

	s.broadcastAll(encodeMessage(core.NewUserListMessage(s.registry.ClientIDs())))

	for _, elementID := range s.room.ReleaseLocksHeldBy(id) {
		s.broadcastAll(encodeMessage(core.NewElementLockMessage(elementID, id, false)))
	}
}

func (s *Session) handleInbound(ctx context.Context, frame inboundFrame) {
	log := logrus.WithField("client_id", frame.senderID)

	switch core.MessageType(frame.data) {
	case core.TypeUpdate:
		var msg core.UpdateMessage
		if err := json.Unmarshal(frame.data, &msg); err != nil {
			log.WithField("error", err).Warn("Dropping malformed update")
			return
		}
		s.room.ApplyUpdate(ctx, frame.senderID, msg.XML)
		s.broadcastOthers(encodeMessage(core.NewUpdateMessage(msg.XML)), frame.senderID)

	case core.TypeElementLock:
		var msg core.ElementLockMessage
		if err := json.Unmarshal(frame.data, &msg); err != nil {
			log.WithField("error", err).Warn("Dropping malformed element_lock")
			return
		}
		if msg.ElementID == "" {
			log.Warn("Dropping element_lock without element id")
			return
		}
		// The server stamps the holder; a client cannot lock on behalf of
		// another.
		s.room.SetLock(frame.senderID, msg.ElementID, msg.Locked)
		s.broadcastAll(encodeMessage(core.NewElementLockMessage(msg.ElementID, frame.senderID, msg.Locked)))

	case "":
		log.Warn("Dropping frame that is not a typed JSON object")

	default:
		// Unknown types are a forward-compatible no-op.
		log.WithField("type", core.MessageType(frame.data)).Debug("Ignoring unknown message type")
	}
}

func (s *Session) broadcastAll(data []byte) {
	s.cleanupFailed(s.registry.BroadcastAll(data))
}

func (s *Session) broadcastOthers(data []byte, excludeID string) {
	s.cleanupFailed(s.registry.BroadcastOthers(data, excludeID))
}

// cleanupFailed disconnects every client a broadcast could not reach. The
// disconnects broadcast again; the recursion terminates because membership
// only shrinks.
func (s *Session) cleanupFailed(failed []string) {
	for _, id := range failed {
		s.disconnect(id)
	}
}

func encodeMessage(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logrus.WithField("error", err).Error("Failed to encode message")
		return nil
	}
	return data
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowOrigin,
}

// allowOrigin admits non-browser clients (no Origin header), local browser
// clients and the tauri shell.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "[::1]", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}

	return false
}

// HandleWS upgrades the request and attaches the connection to the session.
func HandleWS(s *Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithField("error", err).Warn("Websocket upgrade failed")
			return
		}

		c := newClient(conn)
		s.register <- c

		go c.writePump()
		go c.readPump(s)
	}
}
