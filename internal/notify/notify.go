// Package notify fans wallet events out to connected tabs.
package notify

import (
	"context"

	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/pkg/types"
)

// Publisher sends fire-and-forget messages to page contexts. Implemented by
// the transport bus.
type Publisher interface {
	PublishToOrigin(origin, topic string, payload any)
	PublishToTab(tabID int, topic string, payload any)
}

// TabLister resolves the live tabs holding a connection for a chain family.
// Implemented by the connection registry.
type TabLister interface {
	ListConnectedTabs(ctx context.Context, family types.ChainFamily) ([]int, error)
}

// Notifier delivers the gateway's notification surface: connected,
// disconnected, active-wallet-updated, chain-id-updated.
type Notifier struct {
	pub  Publisher
	tabs TabLister
}

// New creates a Notifier.
func New(pub Publisher, tabs TabLister) *Notifier {
	return &Notifier{pub: pub, tabs: tabs}
}

// Connected notifies one origin's tabs that a connection was established.
func (n *Notifier) Connected(origin string, family types.ChainFamily, publicKey string, chainID int64) {
	n.pub.PublishToOrigin(origin, types.EventConnected, &types.ConnectedEvent{
		Family:    family,
		PublicKey: publicKey,
		ChainID:   chainID,
	})
}

// Disconnected notifies one origin's tabs that its connection was removed.
func (n *Notifier) Disconnected(origin string, family types.ChainFamily) {
	n.pub.PublishToOrigin(origin, types.EventDisconnected, &types.DisconnectedEvent{Family: family})
}

// ChainIDUpdated notifies one origin's tabs of a chain switch. Callers invoke
// this only after the registry write succeeded.
func (n *Notifier) ChainIDUpdated(origin string, family types.ChainFamily, chainID int64) {
	n.pub.PublishToOrigin(origin, types.EventChainIDUpdated, &types.ChainIDUpdatedEvent{
		Family:  family,
		ChainID: chainID,
	})
}

// ActiveWalletUpdated broadcasts a wallet change to every tab holding a live
// connection for the family.
func (n *Notifier) ActiveWalletUpdated(ctx context.Context, family types.ChainFamily, publicKey string) {
	tabs, err := n.tabs.ListConnectedTabs(ctx, family)
	if err != nil {
		logger.Error(ctx, "failed to resolve connected tabs", "chain_family", string(family), "error", err)
		return
	}
	for _, tab := range tabs {
		n.pub.PublishToTab(tab, types.EventActiveWalletUpdated, &types.ActiveWalletUpdatedEvent{
			Family:    family,
			PublicKey: publicKey,
		})
	}
}
