package core

import (
	"encoding/json"
)

// Wire message types. Every frame on the collaboration socket is a JSON
// object dispatched on its "type" field; unknown types are a no-op for
// forward compatibility.
const (
	TypeClientID    = "client_id"
	TypeUserList    = "user_list"
	TypeUpdate      = "update"
	TypeElementLock = "element_lock"
)

type (
	// Message is the envelope every wire frame embeds.
	Message struct {
		Type string `json:"type"`
	}

	// ClientIDMessage assigns a client its identity right after connect.
	ClientIDMessage struct {
		Message
		ID string `json:"id"`
	}

	// UserListMessage carries the full presence snapshot, in connection
	// order. Sent on every membership change.
	UserListMessage struct {
		Message
		Users []string `json:"users"`
	}

	// UpdateMessage replaces the whole document with the given snapshot.
	UpdateMessage struct {
		Message
		XML string `json:"xml"`
	}

	// ElementLockMessage announces an advisory lock state change for one
	// diagram element.
	ElementLockMessage struct {
		Message
		ElementID string `json:"element_id"`
		UserID    string `json:"user_id"`
		Locked    bool   `json:"locked"`
	}
)

func NewClientIDMessage(id string) ClientIDMessage {
	return ClientIDMessage{Message: Message{Type: TypeClientID}, ID: id}
}

func NewUserListMessage(users []string) UserListMessage {
	return UserListMessage{Message: Message{Type: TypeUserList}, Users: users}
}

func NewUpdateMessage(xml string) UpdateMessage {
	return UpdateMessage{Message: Message{Type: TypeUpdate}, XML: xml}
}

func NewElementLockMessage(elementID, userID string, locked bool) ElementLockMessage {
	return ElementLockMessage{
		Message:   Message{Type: TypeElementLock},
		ElementID: elementID,
		UserID:    userID,
		Locked:    locked,
	}
}

// MessageType extracts the dispatch type from a raw frame. It returns an
// empty string for frames that are not JSON objects with a "type" field.
func MessageType(data []byte) string {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.Type
}
