package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletgate/walletgate/pkg/errors"
)

func TestBusRejectsBadToken(t *testing.T) {
	bus := NewBus("right-token", time.Second)
	srv := httptest.NewServer(bus)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderToken, "wrong-token")
	req.Header.Set(HeaderKind, string(ContextPage))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// A failed token check looks identical to a missing route.
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBusRejectsUnknownContextKind(t *testing.T) {
	bus := NewBus("token", time.Second)
	srv := httptest.NewServer(bus)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderToken, "token")
	req.Header.Set(HeaderKind, "devtools")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBusRoutesTopicToAttachedPeer(t *testing.T) {
	bus := NewBus("token", time.Second)

	bus.Handle("whoami", func(ctx context.Context, peer Peer, payload json.RawMessage) (any, *errors.RPCError) {
		return peer.Origin, nil
	})

	clientConn, serverConn := NewPipe()
	ch := bus.Attach(serverConn, Peer{Kind: ContextPage, Origin: "https://dapp.example", TabID: 7})

	ctx := context.Background()
	go ch.Run(ctx)

	client := NewChannel(clientConn, time.Second)
	go client.Run(ctx)
	defer client.Close()

	var origin string
	require.NoError(t, client.Request(ctx, "whoami", nil, &origin))
	assert.Equal(t, "https://dapp.example", origin)
}

func TestBusTracksPeers(t *testing.T) {
	bus := NewBus("token", time.Second)
	ctx := context.Background()

	pageClient, pageServer := NewPipe()
	pageCh := bus.Attach(pageServer, Peer{Kind: ContextPage, Origin: "https://dapp.example", TabID: 3})
	go pageCh.Run(ctx)

	panelClient, panelServer := NewPipe()
	panelCh := bus.Attach(panelServer, Peer{Kind: ContextSidePanel, WindowID: 12})
	go panelCh.Run(ctx)

	assert.Equal(t, []int{3}, bus.TabsForOrigin("https://dapp.example"))
	assert.True(t, bus.HasSurface(ContextSidePanel))
	assert.False(t, bus.HasSurface(ContextPopup))
	assert.Equal(t, []int{12}, bus.SurfaceWindows(ContextSidePanel))

	closed := make(chan Peer, 1)
	bus.OnPeerClosed(func(peer Peer) { closed <- peer })

	panelClient.Close()
	select {
	case peer := <-closed:
		assert.Equal(t, ContextSidePanel, peer.Kind)
		assert.Equal(t, 12, peer.WindowID)
	case <-time.After(time.Second):
		t.Fatal("peer-closed signal never fired")
	}

	pageClient.Close()
}
