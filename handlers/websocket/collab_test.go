package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bpmn-collab/core"
	"bpmn-collab/stores/memory"

	"github.com/gorilla/websocket"
)

func startCollabServer(t *testing.T, policy core.LockPolicy) (*Session, *httptest.Server) {
	t.Helper()

	room := NewRoom(context.Background(), memory.NewSnapshotStore(), policy)
	s := NewSession(room)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	srv := httptest.NewServer(HandleWS(s))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return s, srv
}

func dialCollab(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not a JSON object: %v", err)
	}
	return frame
}

func expectFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()

	frame := readFrame(t, conn)
	if frame["type"] != wantType {
		t.Fatalf("frame type = %v, want %s (frame: %v)", frame["type"], wantType, frame)
	}
	return frame
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(window))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func userStrings(t *testing.T, frame map[string]any) []string {
	t.Helper()

	raw, ok := frame["users"].([]any)
	if !ok {
		t.Fatalf("user_list without users field: %v", frame)
	}
	users := make([]string, len(raw))
	for i, u := range raw {
		users[i], _ = u.(string)
	}
	return users
}

// connectClient consumes the join handshake: client_id, user_list and the
// state replay update. Lock replays, if any, are left for the caller.
func connectClient(t *testing.T, srv *httptest.Server) (conn *websocket.Conn, id string, users []string, xml string) {
	t.Helper()

	conn = dialCollab(t, srv)

	idFrame := expectFrame(t, conn, core.TypeClientID)
	id, _ = idFrame["id"].(string)
	if id == "" {
		t.Fatal("client_id frame without id")
	}

	users = userStrings(t, expectFrame(t, conn, core.TypeUserList))

	updateFrame := expectFrame(t, conn, core.TypeUpdate)
	xml, _ = updateFrame["xml"].(string)

	return conn, id, users, xml
}

func TestConnectHandshake(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	_, id, users, xml := connectClient(t, srv)

	if len(users) != 1 || users[0] != id {
		t.Errorf("user_list = %v, want just the new client %s", users, id)
	}
	if xml != core.DefaultDiagramXML {
		t.Error("joiner should receive the seed diagram, not a blank document")
	}
}

func TestPresenceOnJoinAndLeave(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, idA, _, _ := connectClient(t, srv)
	connB, idB, usersB, _ := connectClient(t, srv)

	if len(usersB) != 2 || usersB[0] != idA || usersB[1] != idB {
		t.Errorf("joiner user_list = %v, want [%s %s] in connection order", usersB, idA, idB)
	}

	usersA := userStrings(t, expectFrame(t, connA, core.TypeUserList))
	if len(usersA) != 2 || usersA[0] != idA || usersA[1] != idB {
		t.Errorf("existing client user_list = %v, want [%s %s]", usersA, idA, idB)
	}

	if err := connB.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	usersA = userStrings(t, expectFrame(t, connA, core.TypeUserList))
	if len(usersA) != 1 || usersA[0] != idA {
		t.Errorf("user_list after leave = %v, want [%s]", usersA, idA)
	}
}

func TestUpdatePropagationWithoutEcho(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, _, _, _ := connectClient(t, srv)
	connB, idB, _, _ := connectClient(t, srv)
	expectFrame(t, connA, core.TypeUserList) // B joined

	if err := connA.WriteJSON(core.NewUpdateMessage("<doc v=1/>")); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	frame := expectFrame(t, connB, core.TypeUpdate)
	if frame["xml"] != "<doc v=1/>" {
		t.Errorf("update xml = %v, want <doc v=1/>", frame["xml"])
	}

	// A's next frame must not be an echo of its own update. The lock B now
	// sends goes to everyone, so it is the first thing A may see.
	if err := connB.WriteJSON(core.NewElementLockMessage("task1", idB, true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	expectFrame(t, connA, core.TypeElementLock)
}

func TestLockBroadcastIncludesSenderAndStampsHolder(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, _, _, _ := connectClient(t, srv)
	connB, idB, _, _ := connectClient(t, srv)
	expectFrame(t, connA, core.TypeUserList)

	// The client cannot lock on behalf of another user.
	if err := connB.WriteJSON(core.NewElementLockMessage("E1", "forged-id", true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := expectFrame(t, conn, core.TypeElementLock)
		if frame["element_id"] != "E1" || frame["user_id"] != idB || frame["locked"] != true {
			t.Errorf("lock frame = %v, want E1 locked by %s", frame, idB)
		}
	}
}

func TestLateJoinerReceivesSnapshotAndLocks(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, idA, _, _ := connectClient(t, srv)

	if err := connA.WriteJSON(core.NewUpdateMessage("<doc v=1/>")); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if err := connA.WriteJSON(core.NewElementLockMessage("E1", idA, true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	expectFrame(t, connA, core.TypeElementLock) // own lock echoed to all

	connB, _, _, xml := connectClient(t, srv)
	if xml != "<doc v=1/>" {
		t.Errorf("late joiner snapshot = %q, want the current document", xml)
	}
	// Held locks are replayed after the snapshot.
	frame := expectFrame(t, connB, core.TypeElementLock)
	if frame["element_id"] != "E1" || frame["user_id"] != idA || frame["locked"] != true {
		t.Errorf("replayed lock = %v, want E1 held by %s", frame, idA)
	}
}

func TestDisconnectReleasesLocks(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, idA, _, _ := connectClient(t, srv)
	connB, _, _, _ := connectClient(t, srv)
	expectFrame(t, connA, core.TypeUserList)

	if err := connA.WriteJSON(core.NewElementLockMessage("E1", idA, true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	expectFrame(t, connA, core.TypeElementLock)
	expectFrame(t, connB, core.TypeElementLock)

	if err := connA.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	expectFrame(t, connB, core.TypeUserList)
	frame := expectFrame(t, connB, core.TypeElementLock)
	if frame["element_id"] != "E1" || frame["user_id"] != idA || frame["locked"] != false {
		t.Errorf("release frame = %v, want E1 unlocked for %s", frame, idA)
	}
}

func TestDisconnectKeepsLocksUnderKeepPolicy(t *testing.T) {
	s, srv := startCollabServer(t, core.KeepLocksOnDisconnect)

	connA, idA, _, _ := connectClient(t, srv)
	connB, _, _, _ := connectClient(t, srv)
	expectFrame(t, connA, core.TypeUserList)

	if err := connA.WriteJSON(core.NewElementLockMessage("E1", idA, true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	expectFrame(t, connB, core.TypeElementLock)

	if err := connA.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	expectFrame(t, connB, core.TypeUserList)
	expectNoFrame(t, connB, 200*time.Millisecond)

	if s.Locks()["E1"] != idA {
		t.Errorf("lock table = %v, want E1 still held by %s", s.Locks(), idA)
	}
}

func TestUnknownAndMalformedFramesIgnored(t *testing.T) {
	_, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, _, _, _ := connectClient(t, srv)
	connB, _, _, _ := connectClient(t, srv)
	expectFrame(t, connA, core.TypeUserList)

	if err := connA.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence_ping","x":1}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := connA.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	// The connection survives both and the protocol keeps working.
	if err := connA.WriteJSON(core.NewUpdateMessage("<doc v=2/>")); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	frame := expectFrame(t, connB, core.TypeUpdate)
	if frame["xml"] != "<doc v=2/>" {
		t.Errorf("update xml = %v, want <doc v=2/>", frame["xml"])
	}
}

func TestEndToEndScenario(t *testing.T) {
	s, srv := startCollabServer(t, core.ReleaseLocksOnDisconnect)

	connA, idA, _, _ := connectClient(t, srv)
	connB, idB, usersB, _ := connectClient(t, srv)

	usersA := userStrings(t, expectFrame(t, connA, core.TypeUserList))
	for _, users := range [][]string{usersA, usersB} {
		if len(users) != 2 || users[0] != idA || users[1] != idB {
			t.Fatalf("user_list = %v, want [%s %s]", users, idA, idB)
		}
	}

	// A edits.
	if err := connA.WriteJSON(core.NewUpdateMessage("<doc v=1/>")); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	frame := expectFrame(t, connB, core.TypeUpdate)
	if frame["xml"] != "<doc v=1/>" {
		t.Fatalf("B received %v, want <doc v=1/>", frame["xml"])
	}
	if s.Document() != "<doc v=1/>" {
		t.Fatalf("room snapshot = %q, want <doc v=1/>", s.Document())
	}

	// B selects task1: both render a marker attributed to B.
	if err := connB.WriteJSON(core.NewElementLockMessage("task1", idB, true)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := expectFrame(t, conn, core.TypeElementLock)
		if frame["element_id"] != "task1" || frame["user_id"] != idB || frame["locked"] != true {
			t.Fatalf("lock frame = %v, want task1 locked by %s", frame, idB)
		}
	}

	// B deselects: marker removed on both.
	if err := connB.WriteJSON(core.NewElementLockMessage("task1", idB, false)); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := expectFrame(t, conn, core.TypeElementLock)
		if frame["element_id"] != "task1" || frame["locked"] != false {
			t.Fatalf("unlock frame = %v, want task1 unlocked", frame)
		}
	}

	if len(s.Locks()) != 0 {
		t.Errorf("lock table = %v, want empty", s.Locks())
	}
}
