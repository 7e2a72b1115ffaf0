package approval

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

type fakeOpener struct {
	surface  types.SurfaceKind
	windowID int
	opened   int
	mu       sync.Mutex
}

func (f *fakeOpener) Open(ctx context.Context, payload *types.ApprovalPayload) (types.SurfaceKind, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.surface, f.windowID, nil
}

type memoryApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*types.PendingApproval
}

func newMemoryApprovalStore() *memoryApprovalStore {
	return &memoryApprovalStore{pending: make(map[string]*types.PendingApproval)}
}

func (m *memoryApprovalStore) Create(ctx context.Context, p *types.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	m.pending[p.RequestID] = p
	return nil
}

func (m *memoryApprovalStore) Delete(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
	return nil
}

func (m *memoryApprovalStore) List(ctx context.Context) ([]*types.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PendingApproval
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	TabID   int
	Topic   string
	Payload any
}

func (r *recordingPublisher) PublishToTab(tabID int, topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, publishedMessage{TabID: tabID, Topic: topic, Payload: payload})
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func connectPayload(requestID string, tabID int) *types.ApprovalPayload {
	return &types.ApprovalPayload{
		Kind:      types.ApprovalConnect,
		RequestID: requestID,
		Family:    types.ChainFamilyEVM,
		Origin:    "https://dapp.example",
		TabID:     tabID,
		Connect:   &types.ConnectPrompt{ChainID: 1},
	}
}

func newTestOrchestrator(surface types.SurfaceKind, windowID int) (*Orchestrator, *memoryApprovalStore, *recordingPublisher) {
	store := newMemoryApprovalStore()
	pub := &recordingPublisher{}
	o := NewOrchestrator(&fakeOpener{surface: surface, windowID: windowID}, store, pub)
	return o, store, pub
}

func TestResolveDeliversResult(t *testing.T) {
	o, store, _ := newTestOrchestrator(types.SurfacePopup, 5)
	ctx := context.Background()

	done := make(chan *types.ApprovalResult, 1)
	go func() {
		result, err := o.RequestUIAction(ctx, connectPayload("req-1", 3))
		require.NoError(t, err)
		done <- result
	}()

	// Wait for the approval to register.
	require.Eventually(t, func() bool { return o.Payload("req-1") != nil }, time.Second, 5*time.Millisecond)

	o.Resolve(ctx, &types.ApprovalResult{
		RequestID: "req-1",
		TabID:     3,
		Family:    types.ChainFamilyEVM,
		Data:      json.RawMessage(`{"approved":true}`),
	})

	select {
	case result := <-done:
		assert.Empty(t, result.ErrorCode)
		assert.JSONEq(t, `{"approved":true}`, string(result.Data))
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}

	// Resolution removes the persisted row.
	rows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestResolveIsIdempotent(t *testing.T) {
	o, _, _ := newTestOrchestrator(types.SurfacePopup, 5)
	ctx := context.Background()

	results := make(chan *types.ApprovalResult, 1)
	go func() {
		result, err := o.RequestUIAction(ctx, connectPayload("req-1", 3))
		require.NoError(t, err)
		results <- result
	}()
	require.Eventually(t, func() bool { return o.Payload("req-1") != nil }, time.Second, 5*time.Millisecond)

	// A user action and a second trigger race for the same request; only the
	// first one lands.
	o.Resolve(ctx, &types.ApprovalResult{RequestID: "req-1", Data: json.RawMessage(`"first"`)})
	o.Resolve(ctx, &types.ApprovalResult{RequestID: "req-1", Data: json.RawMessage(`"second"`)})

	result := <-results
	assert.Equal(t, `"first"`, string(result.Data))

	select {
	case extra := <-results:
		t.Fatalf("duplicate resolution delivered: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(types.SurfacePopup, 5)
	ctx := context.Background()

	go o.RequestUIAction(ctx, connectPayload("req-1", 3))
	require.Eventually(t, func() bool { return o.Payload("req-1") != nil }, time.Second, 5*time.Millisecond)

	_, err := o.RequestUIAction(ctx, connectPayload("req-1", 3))
	assert.Error(t, err)

	o.Resolve(ctx, &types.ApprovalResult{RequestID: "req-1", ErrorCode: errors.ErrCodeUserRejected})
}

// gatedOpener blocks Open until released, exposing the window between the
// duplicate-id check and the surface landing.
type gatedOpener struct {
	release chan struct{}
	mu      sync.Mutex
	opened  int
}

func (g *gatedOpener) Open(ctx context.Context, payload *types.ApprovalPayload) (types.SurfaceKind, int, error) {
	g.mu.Lock()
	g.opened++
	g.mu.Unlock()
	<-g.release
	return types.SurfacePopup, 5, nil
}

func (g *gatedOpener) openCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

func TestDuplicateRequestIDRejectedWhileSurfaceOpens(t *testing.T) {
	opener := &gatedOpener{release: make(chan struct{})}
	o := NewOrchestrator(opener, newMemoryApprovalStore(), &recordingPublisher{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	firstDone := make(chan *types.ApprovalResult, 1)
	go func() {
		result, err := o.RequestUIAction(ctx, connectPayload("dup", 3))
		require.NoError(t, err)
		firstDone <- result
	}()
	require.Eventually(t, func() bool { return opener.openCount() == 1 }, time.Second, 5*time.Millisecond)

	// A second caller reusing the page-supplied id fails before it gets a
	// surface, even though the first surface is still opening.
	_, err := o.RequestUIAction(ctx, connectPayload("dup", 4))
	assert.Error(t, err)
	assert.Equal(t, 1, opener.openCount())

	close(opener.release)
	o.Resolve(context.Background(), &types.ApprovalResult{RequestID: "dup", Data: json.RawMessage(`"ok"`)})

	select {
	case result := <-firstDone:
		assert.Equal(t, `"ok"`, string(result.Data))
	case <-time.After(time.Second):
		t.Fatal("surviving waiter never resolved")
	}
}

func TestRejectSurfaceScopedByKindAndWindow(t *testing.T) {
	store := newMemoryApprovalStore()
	pub := &recordingPublisher{}

	popupOpener := &fakeOpener{surface: types.SurfacePopup, windowID: 5}
	o := NewOrchestrator(popupOpener, store, pub)

	popupDone := make(chan *types.ApprovalResult, 1)
	go func() {
		result, err := o.RequestUIAction(context.Background(), connectPayload("popup-req", 3))
		require.NoError(t, err)
		popupDone <- result
	}()
	require.Eventually(t, func() bool { return o.Payload("popup-req") != nil }, time.Second, 5*time.Millisecond)

	// Same orchestrator, side-panel approval in another window.
	popupOpener.mu.Lock()
	popupOpener.surface = types.SurfaceSidePanel
	popupOpener.windowID = 9
	popupOpener.mu.Unlock()

	panelDone := make(chan *types.ApprovalResult, 1)
	go func() {
		result, err := o.RequestUIAction(context.Background(), connectPayload("panel-req", 4))
		require.NoError(t, err)
		panelDone <- result
	}()
	require.Eventually(t, func() bool { return o.Payload("panel-req") != nil }, time.Second, 5*time.Millisecond)

	// Closing the popup window rejects only the popup approval.
	o.RejectSurface(context.Background(), types.SurfacePopup, 5)

	select {
	case result := <-popupDone:
		assert.Equal(t, errors.ErrCodeUserRejected, result.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("popup approval not rejected")
	}

	select {
	case <-panelDone:
		t.Fatal("side-panel approval rejected by popup close")
	case <-time.After(50 * time.Millisecond):
	}

	o.Resolve(context.Background(), &types.ApprovalResult{RequestID: "panel-req", ErrorCode: errors.ErrCodeUserRejected})
	<-panelDone
}

func TestRequestTimesOut(t *testing.T) {
	o, _, _ := newTestOrchestrator(types.SurfacePopup, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.RequestUIAction(ctx, connectPayload("req-1", 3))
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeRequestTimeout, rpcErr.Code)

	// A late surface verdict is a no-op.
	o.Resolve(context.Background(), &types.ApprovalResult{RequestID: "req-1"})
}

func TestSweepOrphans(t *testing.T) {
	o, store, pub := newTestOrchestrator(types.SurfacePopup, 5)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &types.PendingApproval{
		RequestID:   "stale-req",
		Family:      types.ChainFamilyEVM,
		TabID:       3,
		WindowID:    5,
		SurfaceKind: types.SurfacePopup,
	}))

	require.NoError(t, o.SweepOrphans(ctx))

	rows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Equal(t, 1, pub.count())
	msg := pub.messages[0]
	assert.Equal(t, 3, msg.TabID)
	assert.Equal(t, TopicWalletResponse, msg.Topic)

	resp, ok := msg.Payload.(*types.RPCResponse)
	require.True(t, ok)
	assert.Equal(t, "stale-req", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeUserRejected, resp.Error.Code)
}
