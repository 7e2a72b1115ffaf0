package types

// Event names pushed from the gateway to connected tabs.
const (
	EventConnected           = "connected"
	EventDisconnected        = "disconnected"
	EventActiveWalletUpdated = "active_wallet_updated"
	EventChainIDUpdated      = "chain_id_updated"
)

// ConnectedEvent is sent to a site's tabs after a connection is established.
type ConnectedEvent struct {
	Family    ChainFamily `json:"chain_family"`
	PublicKey string      `json:"public_key"`
	ChainID   int64       `json:"chain_id"`
}

// DisconnectedEvent is sent to a site's tabs after a disconnect.
type DisconnectedEvent struct {
	Family ChainFamily `json:"chain_family"`
}

// ActiveWalletUpdatedEvent is broadcast to every tab holding a live connection
// for the family when the selected wallet changes.
type ActiveWalletUpdatedEvent struct {
	Family    ChainFamily `json:"chain_family"`
	PublicKey string      `json:"public_key"`
}

// ChainIDUpdatedEvent is sent after a chain switch has been written to the
// connection registry.
type ChainIDUpdatedEvent struct {
	Family  ChainFamily `json:"chain_family"`
	ChainID int64       `json:"chain_id"`
}
