package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to the Conn interface.
// Gorilla permits one concurrent writer, so Send serializes writes.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

func (c *wsConn) Receive() (Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Handshake header names. The gateway trusts these over anything inside
// message payloads.
const (
	HeaderToken    = "X-Gateway-Token"
	HeaderKind     = "X-Context-Kind"
	HeaderOrigin   = "X-Context-Origin"
	HeaderTabID    = "X-Context-Tab"
	HeaderWindowID = "X-Context-Window"
)

// Dial connects an execution context to the gateway and returns its channel.
// The caller must invoke Run on the returned channel.
func Dial(url, token string, peer Peer, timeout time.Duration) (*Channel, error) {
	header := http.Header{}
	header.Set(HeaderToken, token)
	header.Set(HeaderKind, string(peer.Kind))
	if peer.Origin != "" {
		header.Set(HeaderOrigin, peer.Origin)
	}
	if peer.TabID != 0 {
		header.Set(HeaderTabID, strconv.Itoa(peer.TabID))
	}
	if peer.WindowID != 0 {
		header.Set(HeaderWindowID, strconv.Itoa(peer.WindowID))
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	return NewChannel(newWSConn(ws), timeout), nil
}
