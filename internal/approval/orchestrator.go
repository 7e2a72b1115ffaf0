// Package approval tracks in-flight user approvals and guarantees each one
// resolves exactly once: by the user acting on a surface, by the surface
// closing, by the request timing out, or by the orphan sweep after a restart.
package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// TopicWalletResponse carries out-of-band responses to a page: resolutions of
// requests whose transport call no longer exists.
const TopicWalletResponse = "wallet/response"

// Opener surfaces an approval and reports where it landed.
type Opener interface {
	Open(ctx context.Context, payload *types.ApprovalPayload) (types.SurfaceKind, int, error)
}

// ApprovalStore persists pending-approval metadata across restarts.
type ApprovalStore interface {
	Create(ctx context.Context, p *types.PendingApproval) error
	Delete(ctx context.Context, requestID string) error
	List(ctx context.Context) ([]*types.PendingApproval, error)
}

// Publisher delivers fire-and-forget messages to page contexts.
type Publisher interface {
	PublishToTab(tabID int, topic string, payload any)
}

type pendingEntry struct {
	payload  *types.ApprovalPayload
	surface  types.SurfaceKind
	windowID int
	done     chan *types.ApprovalResult
}

// Orchestrator owns the pending-approval table. All mutation goes through
// take, so every approval has exactly one resolver.
type Orchestrator struct {
	ui        Opener
	store     ApprovalStore
	publisher Publisher

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(ui Opener, store ApprovalStore, publisher Publisher) *Orchestrator {
	return &Orchestrator{
		ui:        ui,
		store:     store,
		publisher: publisher,
		pending:   make(map[string]*pendingEntry),
	}
}

// RequestUIAction surfaces an approval and blocks until it resolves or ctx
// expires. At most one pending approval may exist per request id.
func (o *Orchestrator) RequestUIAction(ctx context.Context, payload *types.ApprovalPayload) (*types.ApprovalResult, error) {
	entry := &pendingEntry{
		payload: payload,
		done:    make(chan *types.ApprovalResult, 1),
	}

	// Reserve the request id before opening any surface. Ids come from pages
	// and cannot be trusted to be unique, so the check and the insert must be
	// one critical section or two same-id callers both get a surface.
	o.mu.Lock()
	if _, exists := o.pending[payload.RequestID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("approval already pending for request %s", payload.RequestID)
	}
	o.pending[payload.RequestID] = entry
	o.mu.Unlock()
	metrics.ApprovalsPending.Inc()

	surface, windowID, err := o.ui.Open(ctx, payload)
	if err != nil {
		if o.take(payload.RequestID) != nil {
			metrics.ApprovalsPending.Dec()
		}
		return nil, fmt.Errorf("failed to open approval surface: %w", err)
	}

	o.mu.Lock()
	_, alive := o.pending[payload.RequestID]
	entry.surface = surface
	entry.windowID = windowID
	o.mu.Unlock()

	// A verdict may have landed while the surface was opening; in that case the
	// resolver already cleaned up and persisting a row now would orphan it.
	if alive {
		if err := o.store.Create(ctx, &types.PendingApproval{
			RequestID:   payload.RequestID,
			Family:      payload.Family,
			TabID:       payload.TabID,
			WindowID:    windowID,
			SurfaceKind: surface,
		}); err != nil {
			// Resolution still works without the row; only restart recovery
			// degrades. Keep going.
			logger.Error(ctx, "failed to persist pending approval", "error", err, "request_id", payload.RequestID)
		}
	}

	select {
	case result := <-entry.done:
		return result, nil
	case <-ctx.Done():
		if taken := o.take(payload.RequestID); taken != nil {
			o.finish(payload.RequestID, "timeout")
			return nil, errors.ErrRequestTimeout
		}
		// Lost the race: deliver removes the entry and buffers the verdict in
		// one critical section, so an empty take means the receive below
		// cannot block.
		return <-entry.done, nil
	}
}

// Resolve delivers a surface's verdict to the waiter. Resolving an unknown or
// already-resolved request id is a no-op.
func (o *Orchestrator) Resolve(ctx context.Context, result *types.ApprovalResult) {
	if !o.deliver(result.RequestID, result) {
		logger.Debug(ctx, "approval already resolved", "request_id", result.RequestID)
		return
	}

	outcome := "approved"
	if result.ErrorCode != "" {
		outcome = "rejected"
	}
	o.finish(result.RequestID, outcome)
}

// Payload returns the pending payload for a request id, or nil. Popups use
// this to fetch their prompt after opening.
func (o *Orchestrator) Payload(requestID string) *types.ApprovalPayload {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.pending[requestID]; ok {
		return entry.payload
	}
	return nil
}

// RejectSurface rejects every pending approval living on a closed surface.
// Called from the surface-closed signal, scoped by kind and window so a popup
// closing never tears down side-panel approvals.
func (o *Orchestrator) RejectSurface(ctx context.Context, kind types.SurfaceKind, windowID int) {
	o.mu.Lock()
	var doomed []*pendingEntry
	for _, entry := range o.pending {
		if entry.surface == kind && entry.windowID == windowID {
			doomed = append(doomed, entry)
		}
	}
	o.mu.Unlock()

	for _, entry := range doomed {
		id := entry.payload.RequestID
		if !o.deliver(id, &types.ApprovalResult{
			RequestID: id,
			TabID:     entry.payload.TabID,
			Family:    entry.payload.Family,
			ErrorCode: errors.ErrCodeUserRejected,
		}) {
			continue
		}
		o.finish(id, "surface_closed")
	}
}

// SweepOrphans rejects approvals persisted by a previous process. Their
// transport calls died with that process, so the verdict goes out as an
// out-of-band response; pages that are also gone miss it harmlessly.
func (o *Orchestrator) SweepOrphans(ctx context.Context) error {
	orphans, err := o.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list orphaned approvals: %w", err)
	}

	for _, orphan := range orphans {
		if err := o.store.Delete(ctx, orphan.RequestID); err != nil {
			return fmt.Errorf("failed to delete orphaned approval: %w", err)
		}
		o.publisher.PublishToTab(orphan.TabID, TopicWalletResponse, &types.RPCResponse{
			ID:    orphan.RequestID,
			Error: errors.ErrUserRejected.Body(),
		})
		metrics.ApprovalsResolved.WithLabelValues("orphaned").Inc()
		logger.Info(ctx, "rejected orphaned approval",
			"request_id", orphan.RequestID, "chain_family", string(orphan.Family))
	}
	return nil
}

// deliver pops the pending entry and buffers the verdict in the same critical
// section. Returns false when the entry is already gone.
func (o *Orchestrator) deliver(requestID string, result *types.ApprovalResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.pending[requestID]
	if !ok {
		return false
	}
	delete(o.pending, requestID)
	entry.done <- result
	return true
}

// take pops a pending entry without resolving it. Only the waiter itself uses
// this, to reclaim its own reservation.
func (o *Orchestrator) take(requestID string) *pendingEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.pending[requestID]
	if !ok {
		return nil
	}
	delete(o.pending, requestID)
	return entry
}

func (o *Orchestrator) finish(requestID, outcome string) {
	metrics.ApprovalsPending.Dec()
	metrics.ApprovalsResolved.WithLabelValues(outcome).Inc()
	if err := o.store.Delete(context.Background(), requestID); err != nil {
		logger.Error(context.Background(), "failed to delete pending approval", "error", err, "request_id", requestID)
	}
}
