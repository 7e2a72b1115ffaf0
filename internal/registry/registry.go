// Package registry tracks which wallet is connected to which origin, per
// chain family. It is the authorization source every dispatcher consults
// before handling a non-connect method.
package registry

import (
	"context"
	"fmt"

	"github.com/walletgate/walletgate/pkg/types"
)

// SiteStore is the durable backend for site and connection records.
type SiteStore interface {
	Upsert(ctx context.Context, origin, title, imageURL string) error
	UpsertConnection(ctx context.Context, origin string, conn *types.Connection) error
	GetConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error)
	GetSites(ctx context.Context) (map[string]*types.ConnectedSite, error)
	Origins(ctx context.Context, family types.ChainFamily) ([]string, error)
	RemoveConnection(ctx context.Context, origin string, family types.ChainFamily) error
	RemoveSite(ctx context.Context, origin string) error
}

// TabSource resolves the live tabs of an origin. Implemented by the
// transport bus.
type TabSource interface {
	TabsForOrigin(origin string) []int
}

// Registry is the per-origin, per-chain-family connection registry.
type Registry struct {
	sites SiteStore
	tabs  TabSource
}

// New creates a Registry.
func New(sites SiteStore, tabs TabSource) *Registry {
	return &Registry{sites: sites, tabs: tabs}
}

// GetSites returns every site record keyed by origin. A site may exist with
// zero connections; callers must check the nested map.
func (r *Registry) GetSites(ctx context.Context) (map[string]*types.ConnectedSite, error) {
	return r.sites.GetSites(ctx)
}

// AddConnection upsert-merges a connection into the origin's site record.
func (r *Registry) AddConnection(ctx context.Context, origin, title, imageURL string, wallet *types.Wallet, chainID int64) error {
	if origin == "" {
		return fmt.Errorf("origin is required")
	}
	if !wallet.Family.Valid() {
		return fmt.Errorf("invalid chain family: %q", wallet.Family)
	}

	if err := r.sites.Upsert(ctx, origin, title, imageURL); err != nil {
		return err
	}

	return r.sites.UpsertConnection(ctx, origin, &types.Connection{
		Family:        wallet.Family,
		WalletAddress: wallet.Address,
		WalletKind:    wallet.Kind,
		ChainID:       chainID,
	})
}

// RemoveConnection removes one chain family's connection. A nil family
// removes the whole site with all its connections.
func (r *Registry) RemoveConnection(ctx context.Context, origin string, family *types.ChainFamily) error {
	if family == nil {
		return r.sites.RemoveSite(ctx, origin)
	}
	return r.sites.RemoveConnection(ctx, origin, *family)
}

// Connection returns the origin's connection for the family, or nil when the
// origin is not connected. Dispatchers use this as the authorization check.
func (r *Registry) Connection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	return r.sites.GetConnection(ctx, origin, family)
}

// SetChainID updates the chain id of an existing connection. Callers notify
// connected tabs only after this write succeeds.
func (r *Registry) SetChainID(ctx context.Context, origin string, family types.ChainFamily, chainID int64) error {
	conn, err := r.sites.GetConnection(ctx, origin, family)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("no connection for origin %s family %s", origin, family)
	}

	conn.ChainID = chainID
	return r.sites.UpsertConnection(ctx, origin, conn)
}

// ListConnectedTabs resolves every open tab whose origin holds a live
// connection for the family. Used for fan-out notifications.
func (r *Registry) ListConnectedTabs(ctx context.Context, family types.ChainFamily) ([]int, error) {
	origins, err := r.sites.Origins(ctx, family)
	if err != nil {
		return nil, err
	}

	var tabs []int
	for _, origin := range origins {
		tabs = append(tabs, r.tabs.TabsForOrigin(origin)...)
	}
	return tabs, nil
}
