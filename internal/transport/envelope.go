// Package transport implements the named-topic message channel between the
// gateway and its attached contexts (pages, popups, side panels). Every
// message crosses a JSON serialization boundary; there is no shared memory
// between contexts.
package transport

import (
	"encoding/json"

	"github.com/walletgate/walletgate/pkg/types"
)

// Kind discriminates envelope roles on the wire.
type Kind string

const (
	// KindPublish is fire-and-forget: no response is ever sent.
	KindPublish Kind = "publish"
	// KindRequest expects exactly one KindResponse with the same call id.
	KindRequest Kind = "request"
	// KindResponse answers a KindRequest.
	KindResponse Kind = "response"
)

// Envelope is the unit of cross-context messaging.
type Envelope struct {
	Kind    Kind                `json:"kind"`
	Topic   string              `json:"topic"`
	CallID  string              `json:"call_id,omitempty"`
	Payload json.RawMessage     `json:"payload,omitempty"`
	Error   *types.RPCErrorBody `json:"error,omitempty"`
}

// ContextKind identifies the class of execution context a peer runs in.
type ContextKind string

const (
	ContextPage      ContextKind = "page"
	ContextPopup     ContextKind = "popup"
	ContextSidePanel ContextKind = "sidepanel"
)

// Peer is the transport-level identity of an attached context. It is fixed at
// handshake time by the gateway and never taken from message payloads.
type Peer struct {
	Kind     ContextKind `json:"kind"`
	Origin   string      `json:"origin,omitempty"`
	TabID    int         `json:"tab_id,omitempty"`
	WindowID int         `json:"window_id,omitempty"`
}
