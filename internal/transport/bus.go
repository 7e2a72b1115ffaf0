package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/pkg/errors"
)

// BusHandler processes an inbound request or publish from an attached
// context. The peer identity comes from the authenticated handshake.
type BusHandler func(ctx context.Context, peer Peer, payload json.RawMessage) (any, *errors.RPCError)

// Bus is the gateway side of the channel transport. It accepts context
// attachments, verifies they belong to this gateway installation, routes
// their messages to topic handlers, and fans notifications back out.
type Bus struct {
	token   string
	timeout time.Duration

	mu       sync.RWMutex
	peers    map[*Channel]Peer
	handlers map[string]BusHandler
	onClosed []func(peer Peer)

	upgrader websocket.Upgrader
}

// NewBus creates a Bus. token is the shared installation secret; connections
// presenting anything else are dropped without a reply.
func NewBus(token string, timeout time.Duration) *Bus {
	return &Bus{
		token:    token,
		timeout:  timeout,
		peers:    make(map[*Channel]Peer),
		handlers: make(map[string]BusHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin scoping happens per message via the peer identity;
			// the token check below is the admission gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle registers the handler for a topic across all attached contexts.
func (b *Bus) Handle(topic string, h BusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

// OnPeerClosed registers a callback for context disconnection. The UI manager
// uses this as the surface-closed signal.
func (b *Bus) OnPeerClosed(fn func(peer Peer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClosed = append(b.onClosed, fn)
}

// ServeHTTP upgrades an attachment request. Connections failing the token
// check are closed silently; an attacker probing the port learns nothing.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderToken) != b.token {
		metrics.DroppedMessages.WithLabelValues("bad_token").Inc()
		http.Error(w, "", http.StatusNotFound)
		return
	}

	peer := Peer{
		Kind:   ContextKind(r.Header.Get(HeaderKind)),
		Origin: r.Header.Get(HeaderOrigin),
	}
	peer.TabID, _ = strconv.Atoi(r.Header.Get(HeaderTabID))
	peer.WindowID, _ = strconv.Atoi(r.Header.Get(HeaderWindowID))

	switch peer.Kind {
	case ContextPage, ContextPopup, ContextSidePanel:
	default:
		metrics.DroppedMessages.WithLabelValues("bad_context_kind").Inc()
		http.Error(w, "", http.StatusNotFound)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := b.Attach(newWSConn(ws), peer)
	go ch.Run(r.Context())
}

// Attach registers a connection under a fixed peer identity and wires the
// bus's topic handlers into it. Exposed so tests can attach pipe connections.
// The caller owns running the returned channel.
func (b *Bus) Attach(conn Conn, peer Peer) *Channel {
	ch := NewChannel(conn, b.timeout)

	b.mu.RLock()
	for topic, h := range b.handlers {
		handler := h
		ch.Handle(topic, func(ctx context.Context, env Envelope) (any, *errors.RPCError) {
			return handler(ctx, peer, env.Payload)
		})
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.peers[ch] = peer
	b.mu.Unlock()

	ch.OnClose(func() { b.detach(ch) })

	logger.Debug(context.Background(), "context attached",
		"kind", string(peer.Kind), "peer_origin", peer.Origin, "tab", peer.TabID, "window", peer.WindowID)
	return ch
}

func (b *Bus) detach(ch *Channel) {
	b.mu.Lock()
	peer, ok := b.peers[ch]
	delete(b.peers, ch)
	listeners := append([]func(Peer){}, b.onClosed...)
	b.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range listeners {
		fn(peer)
	}
}

// TabsForOrigin returns the tab ids of live page connections for an origin.
func (b *Bus) TabsForOrigin(origin string) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var tabs []int
	for _, peer := range b.peers {
		if peer.Kind == ContextPage && peer.Origin == origin {
			tabs = append(tabs, peer.TabID)
		}
	}
	return tabs
}

// PublishToTab sends a fire-and-forget message to every page connection of a
// tab. Sends to gone contexts fail silently.
func (b *Bus) PublishToTab(tabID int, topic string, payload any) {
	for _, ch := range b.channels(func(p Peer) bool {
		return p.Kind == ContextPage && p.TabID == tabID
	}) {
		ch.Publish(topic, payload)
	}
}

// PublishToOrigin sends a fire-and-forget message to every page connection of
// an origin.
func (b *Bus) PublishToOrigin(origin, topic string, payload any) {
	for _, ch := range b.channels(func(p Peer) bool {
		return p.Kind == ContextPage && p.Origin == origin
	}) {
		ch.Publish(topic, payload)
	}
}

// PublishToWindow sends a fire-and-forget message to the UI connections of a
// window.
func (b *Bus) PublishToWindow(windowID int, topic string, payload any) {
	for _, ch := range b.channels(func(p Peer) bool {
		return p.Kind != ContextPage && p.WindowID == windowID
	}) {
		ch.Publish(topic, payload)
	}
}

// SurfaceWindows returns the window ids carrying a live UI connection of the
// given kind.
func (b *Bus) SurfaceWindows(kind ContextKind) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[int]bool)
	var windows []int
	for _, peer := range b.peers {
		if peer.Kind == kind && !seen[peer.WindowID] {
			seen[peer.WindowID] = true
			windows = append(windows, peer.WindowID)
		}
	}
	return windows
}

// HasSurface reports whether any UI connection of the given kind is live.
func (b *Bus) HasSurface(kind ContextKind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, peer := range b.peers {
		if peer.Kind == kind {
			return true
		}
	}
	return false
}

func (b *Bus) channels(match func(Peer) bool) []*Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Channel
	for ch, peer := range b.peers {
		if match(peer) {
			out = append(out, ch)
		}
	}
	return out
}
