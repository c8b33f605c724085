package client

type (
	// MarkerStyle describes the visual lock marker anchored to a diagram
	// element. Interpretation is up to the editor; purely cosmetic.
	MarkerStyle struct {
		Color string `json:"color"`
	}

	// Editor is the narrow interface to the external modeling component.
	// ImportSnapshot either fully succeeds or rejects the snapshot without
	// mutating view state. Subscriptions return their unsubscribe function
	// so handlers are not leaked across document re-creation.
	Editor interface {
		ExportSnapshot() (string, error)
		ImportSnapshot(xml string) error
		FitViewport()
		AddMarker(elementID string, style MarkerStyle)
		RemoveMarker(elementID string)
		OnChange(fn func()) (unsubscribe func())
		OnSelectionChange(fn func(selected []string)) (unsubscribe func())
	}
)

var (
	// DefaultOwnMarker is the marker style for elements locked by this
	// client.
	DefaultOwnMarker = MarkerStyle{Color: "#1e88e5"}
	// DefaultPeerMarker is the marker style for elements locked by a peer.
	DefaultPeerMarker = MarkerStyle{Color: "#e53935"}
)
