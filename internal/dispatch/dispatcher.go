// Package dispatch routes page RPC requests to handlers, one dispatcher per
// chain family. The shared skeleton applies the cross-cutting gates: origin
// presence, per-origin rate limiting, and the connection requirement for
// every method that does not establish one.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// Handler processes one method. Handlers return either a result or an
// RPCError; nothing is ever thrown across the channel boundary.
type Handler func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError)

// Approvals is the orchestrator surface the dispatchers need.
type Approvals interface {
	RequestUIAction(ctx context.Context, payload *types.ApprovalPayload) (*types.ApprovalResult, error)
}

// Dispatcher routes requests for a single chain family.
type Dispatcher struct {
	family  types.ChainFamily
	timeout time.Duration
	limiter *OriginLimiter

	handlers map[string]Handler
	// connectMethods are reachable from any origin; everything else requires
	// an existing connection for the family.
	connectMethods map[string]bool

	connections ConnectionSource
}

// ConnectionSource answers the connection gate.
type ConnectionSource interface {
	Connection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error)
}

func newDispatcher(family types.ChainFamily, connections ConnectionSource, limiter *OriginLimiter, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		family:         family,
		timeout:        timeout,
		limiter:        limiter,
		handlers:       make(map[string]Handler),
		connectMethods: make(map[string]bool),
		connections:    connections,
	}
}

func (d *Dispatcher) handle(method string, establishesConnection bool, h Handler) {
	d.handlers[method] = h
	if establishesConnection {
		d.connectMethods[method] = true
	}
}

// Family returns the dispatcher's chain family.
func (d *Dispatcher) Family() types.ChainFamily { return d.family }

// Topic returns the bus topic this dispatcher serves.
func (d *Dispatcher) Topic() string { return "wallet/" + string(d.family) }

// Dispatch runs one request through the gates and its method handler.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
	result, rpcErr := d.dispatch(ctx, rc)

	outcome := "ok"
	if rpcErr != nil {
		outcome = rpcErr.Code
	}
	metrics.RequestsTotal.WithLabelValues(string(d.family), rc.Request.Method, outcome).Inc()
	return result, rpcErr
}

func (d *Dispatcher) dispatch(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
	origin := rc.Sender.Origin
	if origin == "" {
		return nil, errors.ErrInvalidOrigin
	}

	ctx = logger.WithRequest(ctx, rc.Request.ID, origin)

	if d.limiter != nil && !d.limiter.Allow(origin) {
		logger.Warn(ctx, "rate limited", "chain_family", string(d.family))
		return nil, errors.ErrRateLimited
	}

	handler, ok := d.handlers[rc.Request.Method]
	if !ok {
		return nil, errors.UnknownMethod(rc.Request.Method)
	}

	if !d.connectMethods[rc.Request.Method] {
		conn, err := d.connections.Connection(ctx, origin, d.family)
		if err != nil {
			logger.Error(ctx, "connection lookup failed", "error", err)
			return nil, errors.ErrInternalError
		}
		if conn == nil {
			return nil, errors.ErrNotConnected
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return handler(ctx, rc)
}

// BusHandler adapts the dispatcher to a transport topic handler.
func (d *Dispatcher) BusHandler() transport.BusHandler {
	return func(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
		var req types.RPCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errors.BadRequest("malformed request")
		}
		rc := &types.RequestContext{
			Request: req,
			Sender: types.Sender{
				Origin:   peer.Origin,
				TabID:    peer.TabID,
				WindowID: peer.WindowID,
			},
		}
		return d.Dispatch(ctx, rc)
	}
}

// approve runs one approval round trip and maps its outcome: a UI rejection
// becomes the matching RPCError, a timeout becomes request_timeout.
func (d *Dispatcher) approve(ctx context.Context, approvals Approvals, payload *types.ApprovalPayload) (*types.ApprovalResult, *errors.RPCError) {
	result, err := approvals.RequestUIAction(ctx, payload)
	if err != nil {
		if rpcErr, ok := errors.IsRPCError(err); ok {
			return nil, rpcErr
		}
		logger.Error(ctx, "approval failed", "error", err)
		return nil, errors.ErrInternalError
	}
	if result.ErrorCode != "" {
		return nil, errors.FromCode(result.ErrorCode)
	}
	return result, nil
}

// mapError converts service-layer errors into the wire error. Non-RPC errors
// are logged and flattened to internal_error.
func mapError(ctx context.Context, err error) *errors.RPCError {
	if rpcErr, ok := errors.IsRPCError(err); ok {
		return rpcErr
	}
	logger.Error(ctx, "request failed", "error", err)
	return errors.ErrInternalError
}

// Results returned to pages.

// ConnectResult is the payload of a successful connect.
type ConnectResult struct {
	PublicKey string `json:"public_key"`
	ChainID   int64  `json:"chain_id"`
}

// SignResult carries a hex-encoded signature or signed transaction.
type SignResult struct {
	Signature string `json:"signature"`
}
