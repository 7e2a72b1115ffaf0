package types

import (
	"encoding/json"
	"time"
)

// ChainFamily identifies one of the independent blockchain protocol groups the
// gateway mediates. Each family has its own dispatcher and method surface.
type ChainFamily string

const (
	ChainFamilyEVM ChainFamily = "evm"
	ChainFamilySVM ChainFamily = "svm"
	ChainFamilyTON ChainFamily = "ton"
)

// ChainFamilies lists every family the gateway serves.
var ChainFamilies = []ChainFamily{ChainFamilyEVM, ChainFamilySVM, ChainFamilyTON}

// Valid reports whether f is a known chain family.
func (f ChainFamily) Valid() bool {
	switch f {
	case ChainFamilyEVM, ChainFamilySVM, ChainFamilyTON:
		return true
	}
	return false
}

// WalletKind distinguishes key-derived accounts from contract wallets that are
// deployed per chain and therefore bound to a fixed chain set.
type WalletKind string

const (
	// WalletKindEOA is a plain key-derived account, valid on any chain of its family.
	WalletKindEOA WalletKind = "eoa"
	// WalletKindSmart is a deployed-per-chain contract wallet; switching chains
	// requires the target chain to be in the wallet's supported set.
	WalletKindSmart WalletKind = "smart"
)

// SurfaceKind is the class of UI surface an approval is presented on.
type SurfaceKind string

const (
	SurfacePopup     SurfaceKind = "popup"
	SurfaceSidePanel SurfaceKind = "sidepanel"
)

// RPCRequest is a single call from a page context. The id is generated by the
// caller and must be treated as untrusted for uniqueness; response correlation
// on the gateway side keys off the transport call id, not this field.
type RPCRequest struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// RPCResponse is the response envelope delivered back to the page. Exactly one
// of Result and Error is set.
type RPCResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCErrorBody   `json:"error,omitempty"`
}

// RPCErrorBody is the wire shape of an error inside an RPCResponse.
type RPCErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Sender carries the transport-level metadata attached to an inbound message.
// Origin is authoritative (taken from the authenticated connection, never from
// the payload). TabID and WindowID are zero when not applicable.
type Sender struct {
	Origin   string `json:"origin"`
	TabID    int    `json:"tab_id,omitempty"`
	WindowID int    `json:"window_id,omitempty"`
}

// RequestContext pairs an RPC request with its sender metadata. Constructed
// once per inbound message; requests without an origin are rejected before
// dispatch.
type RequestContext struct {
	Request RPCRequest `json:"request"`
	Sender  Sender     `json:"sender"`
}

// Connection is the per-chain-family connection record of a site.
type Connection struct {
	WalletAddress string      `json:"wallet_address"`
	WalletKind    WalletKind  `json:"wallet_kind"`
	ChainID       int64       `json:"chain_id"`
	ConnectedAt   time.Time   `json:"connected_at"`
	Family        ChainFamily `json:"chain_family"`
}

// ConnectedSite is the durable per-origin record of which wallets are
// connected. A site with an empty Connections map may still exist as a record;
// callers must check the nested map, not record presence.
type ConnectedSite struct {
	Origin      string                      `json:"origin"`
	Title       string                      `json:"title"`
	ImageURL    string                      `json:"image_url"`
	Connections map[ChainFamily]*Connection `json:"connections"`
}

// Wallet is the metadata of a keyring entry. The private key material lives
// encrypted in storage and is never part of this struct.
type Wallet struct {
	Address         string      `json:"address"`
	Family          ChainFamily `json:"chain_family"`
	Kind            WalletKind  `json:"kind"`
	Name            string      `json:"name"`
	SupportedChains []int64     `json:"supported_chains,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SupportsChain reports whether the wallet can operate on chainID. EOA wallets
// support every chain of their family.
func (w *Wallet) SupportsChain(chainID int64) bool {
	if w.Kind != WalletKindSmart {
		return true
	}
	for _, id := range w.SupportedChains {
		if id == chainID {
			return true
		}
	}
	return false
}

// PendingApproval is the durable metadata of one unresolved UI interaction.
// At most one exists per request id; it is removed the instant the approval
// resolves.
type PendingApproval struct {
	RequestID   string      `json:"request_id"`
	Family      ChainFamily `json:"chain_family"`
	TabID       int         `json:"tab_id"`
	WindowID    int         `json:"window_id"`
	SurfaceKind SurfaceKind `json:"surface_kind"`
	CreatedAt   time.Time   `json:"created_at"`
}
