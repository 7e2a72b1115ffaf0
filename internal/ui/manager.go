// Package ui controls approval surfaces: transient popup windows and the
// persistent side panel. It decides which surface receives an approval and
// owns the one-shot payload handoff to the side panel.
package ui

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/pkg/types"
)

// Geometry positions a popup window.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Left   int `json:"left"`
	Top    int `json:"top"`
}

// DefaultPopupGeometry matches the approval window dimensions.
var DefaultPopupGeometry = Geometry{Width: 400, Height: 620}

// PopupOpener creates a popup window and returns its window id. Window
// creation belongs to the hosting shell; the gateway only requests it.
type PopupOpener interface {
	OpenPopup(ctx context.Context, url string, geom Geometry) (int, error)
}

// Surfaces is the bus subset the manager needs.
type Surfaces interface {
	SurfaceWindows(kind transport.ContextKind) []int
	PublishToWindow(windowID int, topic string, payload any)
}

// Topics of the UI-control surface.
const (
	TopicSidePanelShow = "sidepanel/show"
)

// Manager selects and drives approval surfaces.
type Manager struct {
	session  *storage.Session
	surfaces Surfaces
	opener   PopupOpener
}

// NewManager creates a Manager.
func NewManager(session *storage.Session, surfaces Surfaces, opener PopupOpener) *Manager {
	return &Manager{session: session, surfaces: surfaces, opener: opener}
}

// oneShotRecord is the payload handoff for a side panel. The id is fresh on
// every write so repeated identical payloads still trigger observers.
type oneShotRecord struct {
	ID      string                 `json:"id"`
	Payload *types.ApprovalPayload `json:"payload"`
}

func oneShotKey(windowID int) string {
	return fmt.Sprintf("ui/oneshot/%d", windowID)
}

// Open surfaces an approval. An attached side panel is reused; otherwise a
// popup window is opened. Returns the surface kind that took the approval and
// the window id it lives in.
func (m *Manager) Open(ctx context.Context, payload *types.ApprovalPayload) (types.SurfaceKind, int, error) {
	if err := payload.Validate(); err != nil {
		return "", 0, err
	}

	if windows := m.surfaces.SurfaceWindows(transport.ContextSidePanel); len(windows) > 0 {
		windowID := windows[0]
		if err := m.writeOneShot(windowID, payload); err != nil {
			return "", 0, err
		}
		m.surfaces.PublishToWindow(windowID, TopicSidePanelShow, struct{}{})
		return types.SurfaceSidePanel, windowID, nil
	}

	url := fmt.Sprintf("/approval?request_id=%s", payload.RequestID)
	windowID, err := m.opener.OpenPopup(ctx, url, DefaultPopupGeometry)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open popup: %w", err)
	}

	if err := m.writeOneShot(windowID, payload); err != nil {
		return "", 0, err
	}
	return types.SurfacePopup, windowID, nil
}

// TakeOneShot returns and clears the pending payload record for a window.
// Returns nil when nothing is pending; consuming is destructive so a record
// is observed at most once.
func (m *Manager) TakeOneShot(windowID int) (*types.ApprovalPayload, error) {
	key := oneShotKey(windowID)
	raw, ok := m.session.Get(key)
	if !ok {
		return nil, nil
	}
	m.session.Delete(key)

	var rec oneShotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode one-shot record: %w", err)
	}
	return rec.Payload, nil
}

func (m *Manager) writeOneShot(windowID int, payload *types.ApprovalPayload) error {
	raw, err := json.Marshal(&oneShotRecord{ID: uuid.NewString(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode one-shot record: %w", err)
	}
	m.session.Set(oneShotKey(windowID), raw)
	return nil
}
