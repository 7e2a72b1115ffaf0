// Package mocks provides in-memory store implementations for testing. They
// mirror the semantics of the Postgres repositories, notably nil-without-error
// results for missing rows.
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/walletgate/walletgate/pkg/types"
)

// SiteStore is an in-memory connected-sites table.
type SiteStore struct {
	mu    sync.Mutex
	sites map[string]*types.ConnectedSite
}

// NewSiteStore creates an empty SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{sites: make(map[string]*types.ConnectedSite)}
}

func (s *SiteStore) Upsert(ctx context.Context, origin, title, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[origin]
	if !ok {
		site = &types.ConnectedSite{
			Origin:      origin,
			Connections: make(map[types.ChainFamily]*types.Connection),
		}
		s.sites[origin] = site
	}
	site.Title = title
	site.ImageURL = imageURL
	return nil
}

func (s *SiteStore) UpsertConnection(ctx context.Context, origin string, conn *types.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[origin]
	if !ok {
		return fmt.Errorf("no site record for origin %s", origin)
	}
	stored := *conn
	stored.ConnectedAt = time.Now()
	site.Connections[conn.Family] = &stored
	return nil
}

func (s *SiteStore) GetConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[origin]
	if !ok {
		return nil, nil
	}
	conn, ok := site.Connections[family]
	if !ok {
		return nil, nil
	}
	copied := *conn
	return &copied, nil
}

func (s *SiteStore) GetSites(ctx context.Context) (map[string]*types.ConnectedSite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*types.ConnectedSite, len(s.sites))
	for origin, site := range s.sites {
		copied := &types.ConnectedSite{
			Origin:      site.Origin,
			Title:       site.Title,
			ImageURL:    site.ImageURL,
			Connections: make(map[types.ChainFamily]*types.Connection, len(site.Connections)),
		}
		for family, conn := range site.Connections {
			c := *conn
			copied.Connections[family] = &c
		}
		out[origin] = copied
	}
	return out, nil
}

func (s *SiteStore) Origins(ctx context.Context, family types.ChainFamily) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var origins []string
	for origin, site := range s.sites {
		if _, ok := site.Connections[family]; ok {
			origins = append(origins, origin)
		}
	}
	return origins, nil
}

func (s *SiteStore) RemoveConnection(ctx context.Context, origin string, family types.ChainFamily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if site, ok := s.sites[origin]; ok {
		delete(site.Connections, family)
	}
	return nil
}

func (s *SiteStore) RemoveSite(ctx context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sites, origin)
	return nil
}

// WalletStore is an in-memory keyring-wallets table.
type WalletStore struct {
	mu      sync.Mutex
	wallets map[string]*types.Wallet
	blobs   map[string][]byte
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets: make(map[string]*types.Wallet),
		blobs:   make(map[string][]byte),
	}
}

func walletKey(family types.ChainFamily, address string) string {
	return string(family) + "/" + address
}

func (s *WalletStore) Create(ctx context.Context, wallet *types.Wallet, blobEncrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := walletKey(wallet.Family, wallet.Address)
	if _, exists := s.wallets[key]; exists {
		return fmt.Errorf("wallet already exists: %s", wallet.Address)
	}
	stored := *wallet
	stored.CreatedAt = time.Now()
	s.wallets[key] = &stored
	s.blobs[key] = append([]byte(nil), blobEncrypted...)
	return nil
}

func (s *WalletStore) Get(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.wallets[walletKey(family, address)]
	if !ok {
		return nil, nil
	}
	copied := *wallet
	return &copied, nil
}

func (s *WalletStore) GetBlob(ctx context.Context, family types.ChainFamily, address string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[walletKey(family, address)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), blob...), nil
}

func (s *WalletStore) ListByFamily(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Wallet
	for _, wallet := range s.wallets {
		if wallet.Family == family {
			copied := *wallet
			out = append(out, &copied)
		}
	}
	return out, nil
}

// PreferenceStore is an in-memory preferences table. Values round-trip through
// JSON like the real repository does, so type fidelity matches production.
type PreferenceStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewPreferenceStore creates an empty PreferenceStore.
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{values: make(map[string][]byte)}
}

func (s *PreferenceStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *PreferenceStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return nil
}

func (s *PreferenceStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// AlarmStore is an in-memory alarms table.
type AlarmStore struct {
	mu     sync.Mutex
	alarms map[string]time.Time
}

// NewAlarmStore creates an empty AlarmStore.
func NewAlarmStore() *AlarmStore {
	return &AlarmStore{alarms: make(map[string]time.Time)}
}

func (s *AlarmStore) Set(ctx context.Context, name string, firesAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms[name] = firesAt
	return nil
}

func (s *AlarmStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alarms, name)
	return nil
}

func (s *AlarmStore) List(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.alarms))
	for name, at := range s.alarms {
		out[name] = at
	}
	return out, nil
}

// ApprovalStore is an in-memory pending-approvals table.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*types.PendingApproval
}

// NewApprovalStore creates an empty ApprovalStore.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{pending: make(map[string]*types.PendingApproval)}
}

func (s *ApprovalStore) Create(ctx context.Context, p *types.PendingApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	s.pending[p.RequestID] = &stored
	return nil
}

func (s *ApprovalStore) Delete(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
	return nil
}

func (s *ApprovalStore) List(ctx context.Context) ([]*types.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.PendingApproval, 0, len(s.pending))
	for _, p := range s.pending {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

// Pending reports how many approvals are currently stored.
func (s *ApprovalStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
