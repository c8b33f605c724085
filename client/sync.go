package client

import (
	"encoding/json"
	"sync"
	"time"

	"bpmn-collab/core"

	"github.com/sirupsen/logrus"
)

// echoState tracks whether the next change notification from the editor is
// an echo of a remote update rather than a user edit.
type echoState int

const (
	stateNormal echoState = iota
	stateIgnoringNextChange
)

// observeChange transitions on a change notification and reports whether
// that notification must be swallowed. An echo is consumed exactly once.
func (s echoState) observeChange() (echoState, bool) {
	if s == stateIgnoringNextChange {
		return stateNormal, true
	}
	return stateNormal, false
}

// DefaultDebounceWindow is the quiet period local edits are coalesced over
// before one update is sent.
const DefaultDebounceWindow = 300 * time.Millisecond

type Options struct {
	// DebounceWindow overrides DefaultDebounceWindow when positive.
	DebounceWindow time.Duration
	// OwnMarker and PeerMarker style the lock markers; zero values fall
	// back to the defaults.
	OwnMarker  MarkerStyle
	PeerMarker MarkerStyle
	// OnPresence is invoked with the full presence list whenever the
	// server sends a new one.
	OnPresence func(users []string)
	// OnDisconnect is invoked once when the transport fails. The client
	// stops syncing; recovery is a full reload.
	OnDisconnect func(err error)
}

// SyncClient bridges the local editor to the wire protocol: it debounces and
// sends local edits, suppresses the echo of applied remote updates, maps
// selection changes to advisory lock messages and renders incoming lock
// state as markers.
type SyncClient struct {
	editor Editor
	conn   Conn
	opts   Options

	mu         sync.Mutex
	clientID   string
	users      []string
	echo       echoState
	selected   string
	flushTimer *time.Timer
	closed     bool

	unsubChange    func()
	unsubSelection func()
}

func New(editor Editor, conn Conn, opts Options) *SyncClient {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.OwnMarker == (MarkerStyle{}) {
		opts.OwnMarker = DefaultOwnMarker
	}
	if opts.PeerMarker == (MarkerStyle{}) {
		opts.PeerMarker = DefaultPeerMarker
	}
	return &SyncClient{
		editor: editor,
		conn:   conn,
		opts:   opts,
	}
}

// Start subscribes to the editor and begins processing server messages.
func (c *SyncClient) Start() {
	c.unsubChange = c.editor.OnChange(c.handleChange)
	c.unsubSelection = c.editor.OnSelectionChange(c.handleSelectionChange)
	go c.receiveLoop()
}

// Close unsubscribes from the editor and closes the transport.
func (c *SyncClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	c.mu.Unlock()

	if c.unsubChange != nil {
		c.unsubChange()
	}
	if c.unsubSelection != nil {
		c.unsubSelection()
	}
	return c.conn.Close()
}

// ClientID returns the identity the server assigned, or an empty string
// before the client_id message arrived.
func (c *SyncClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Users returns the last presence list received from the server.
func (c *SyncClient) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make([]string, len(c.users))
	copy(users, c.users)
	return users
}

// handleChange runs on every change notification from the editor. Echoes of
// remote updates are swallowed; genuine edits re-arm the debounce timer so a
// burst of micro-edits produces one outgoing update.
func (c *SyncClient) handleChange() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	var swallowed bool
	c.echo, swallowed = c.echo.observeChange()
	if swallowed {
		return
	}

	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	c.flushTimer = time.AfterFunc(c.opts.DebounceWindow, c.flushUpdate)
}

// flushUpdate fires after the quiet window: only the final document state is
// exported and sent, superseded edits within the window are discarded.
func (c *SyncClient) flushUpdate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	xml, err := c.editor.ExportSnapshot()
	if err != nil {
		logrus.WithField("error", err).Warn("Failed to export snapshot, skipping update")
		return
	}

	if err := c.conn.Send(core.NewUpdateMessage(xml)); err != nil {
		logrus.WithField("error", err).Warn("Failed to send update")
	}
}

// handleSelectionChange maps selection transitions to lock messages. Only
// the first selected element is tracked; multi-element selections are not
// locked beyond it.
func (c *SyncClient) handleSelectionChange(selected []string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	var msg *core.ElementLockMessage
	if len(selected) == 0 {
		if c.selected != "" {
			m := core.NewElementLockMessage(c.selected, c.clientID, false)
			msg = &m
			c.selected = ""
		}
	} else if primary := selected[0]; primary != c.selected {
		c.selected = primary
		m := core.NewElementLockMessage(primary, c.clientID, true)
		msg = &m
	}
	c.mu.Unlock()

	if msg == nil {
		return
	}
	if err := c.conn.Send(*msg); err != nil {
		logrus.WithField("error", err).Warn("Failed to send element_lock")
	}
}

func (c *SyncClient) receiveLoop() {
	for {
		data, err := c.conn.Receive()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if !closed {
				logrus.WithField("error", err).Warn("Connection lost, sync stopped")
				if c.opts.OnDisconnect != nil {
					c.opts.OnDisconnect(err)
				}
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *SyncClient) dispatch(data []byte) {
	switch core.MessageType(data) {
	case core.TypeUpdate:
		var msg core.UpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithField("error", err).Warn("Dropping malformed update")
			return
		}
		c.applyRemoteUpdate(msg.XML)

	case core.TypeClientID:
		var msg core.ClientIDMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithField("error", err).Warn("Dropping malformed client_id")
			return
		}
		c.mu.Lock()
		c.clientID = msg.ID
		c.mu.Unlock()

	case core.TypeUserList:
		var msg core.UserListMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithField("error", err).Warn("Dropping malformed user_list")
			return
		}
		c.mu.Lock()
		c.users = msg.Users
		c.mu.Unlock()
		if c.opts.OnPresence != nil {
			c.opts.OnPresence(msg.Users)
		}

	case core.TypeElementLock:
		var msg core.ElementLockMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithField("error", err).Warn("Dropping malformed element_lock")
			return
		}
		c.applyLockState(msg)

	case "":
		logrus.Warn("Dropping frame that is not a typed JSON object")

	default:
		// Unknown types are a forward-compatible no-op.
		logrus.WithField("type", core.MessageType(data)).Debug("Ignoring unknown message type")
	}
}

// applyRemoteUpdate imports a remote snapshot. The echo flag is set first so
// the change notification the import raises is not bounced back to the
// server.
func (c *SyncClient) applyRemoteUpdate(xml string) {
	c.mu.Lock()
	c.echo = stateIgnoringNextChange
	c.mu.Unlock()

	if err := c.editor.ImportSnapshot(xml); err != nil {
		// A rejected import raises no change notification, so the flag
		// must not stay armed against the next genuine edit.
		c.mu.Lock()
		if c.echo == stateIgnoringNextChange {
			c.echo = stateNormal
		}
		c.mu.Unlock()

		logrus.WithField("error", err).Error("Failed to import remote snapshot, keeping local document")
		return
	}

	c.editor.FitViewport()
}

// applyLockState renders a lock change as a marker, attributed to its
// holder. A locked:false removes the marker regardless of which user id is
// echoed.
func (c *SyncClient) applyLockState(msg core.ElementLockMessage) {
	if !msg.Locked {
		c.editor.RemoveMarker(msg.ElementID)
		return
	}

	style := c.opts.PeerMarker
	if msg.UserID == c.ClientID() {
		style = c.opts.OwnMarker
	}
	c.editor.AddMarker(msg.ElementID, style)
}
