package mocks

import (
	"context"
	"sync"

	"github.com/walletgate/walletgate/internal/ui"
)

// PopupOpener is a window opener that hands out sequential window ids and
// records every open request.
type PopupOpener struct {
	mu     sync.Mutex
	nextID int
	URLs   []string
}

// NewPopupOpener creates a PopupOpener whose first window id is 100.
func NewPopupOpener() *PopupOpener {
	return &PopupOpener{nextID: 100}
}

func (o *PopupOpener) OpenPopup(ctx context.Context, url string, geom ui.Geometry) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.URLs = append(o.URLs, url)
	id := o.nextID
	o.nextID++
	return id, nil
}

// Opened reports how many popups were opened.
func (o *PopupOpener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.URLs)
}
