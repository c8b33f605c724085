package session

import (
	"net/http"

	"github.com/go-chi/render"
)

type (
	// View is the read-only surface of the live collaboration session the
	// REST endpoints render.
	View interface {
		Document() string
		Users() []string
		Locks() map[string]string
	}

	DocumentResponse struct {
		XML string `json:"xml"`
	}

	UsersResponse struct {
		Users []string `json:"users"`
	}

	LocksResponse struct {
		Locks map[string]string `json:"locks"`
	}
)

// HandleGetDocument returns the current document snapshot.
func HandleGetDocument(view View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, DocumentResponse{XML: view.Document()})
	}
}

// HandleGetUsers returns the presence list in connection order.
func HandleGetUsers(view View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := view.Users()
		if users == nil {
			users = []string{}
		}
		render.JSON(w, r, UsersResponse{Users: users})
	}
}

// HandleGetLocks returns the current advisory lock table.
func HandleGetLocks(view View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locks := view.Locks()
		if locks == nil {
			locks = map[string]string{}
		}
		render.JSON(w, r, LocksResponse{Locks: locks})
	}
}
