package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/walletgate/walletgate/pkg/types"
)

// SiteRepository handles connected-site data operations
type SiteRepository struct {
	store *Store
}

// NewSiteRepository creates a new SiteRepository
func NewSiteRepository(store *Store) *SiteRepository {
	return &SiteRepository{store: store}
}

// Upsert creates or updates the site record for an origin.
func (r *SiteRepository) Upsert(ctx context.Context, origin, title, imageURL string) error {
	query := `
		INSERT INTO connected_sites (origin, title, image_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (origin) DO UPDATE SET title = $2, image_url = $3
	`

	if _, err := r.store.pool.Exec(ctx, query, origin, title, imageURL); err != nil {
		return fmt.Errorf("failed to upsert site: %w", err)
	}

	return nil
}

// UpsertConnection writes the per-chain-family connection of a site.
func (r *SiteRepository) UpsertConnection(ctx context.Context, origin string, conn *types.Connection) error {
	query := `
		INSERT INTO site_connections (origin, chain_family, wallet_address, wallet_kind, chain_id, connected_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (origin, chain_family)
		DO UPDATE SET wallet_address = $3, wallet_kind = $4, chain_id = $5
	`

	_, err := r.store.pool.Exec(ctx, query,
		origin,
		conn.Family,
		conn.WalletAddress,
		conn.WalletKind,
		conn.ChainID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

// GetConnection retrieves the connection of an origin for one chain family.
// Returns nil when no connection exists.
func (r *SiteRepository) GetConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	query := `
		SELECT chain_family, wallet_address, wallet_kind, chain_id, connected_at
		FROM site_connections
		WHERE origin = $1 AND chain_family = $2
	`

	var conn types.Connection
	err := r.store.pool.QueryRow(ctx, query, origin, family).Scan(
		&conn.Family,
		&conn.WalletAddress,
		&conn.WalletKind,
		&conn.ChainID,
		&conn.ConnectedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

// GetSites retrieves every site record with its nested connections.
func (r *SiteRepository) GetSites(ctx context.Context) (map[string]*types.ConnectedSite, error) {
	query := `
		SELECT s.origin, s.title, s.image_url,
		       c.chain_family, c.wallet_address, c.wallet_kind, c.chain_id, c.connected_at
		FROM connected_sites s
		LEFT JOIN site_connections c ON c.origin = s.origin
		ORDER BY s.origin
	`

	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	sites := make(map[string]*types.ConnectedSite)
	for rows.Next() {
		var (
			origin, title, imageURL string
			family                  *types.ChainFamily
			walletAddress           *string
			walletKind              *types.WalletKind
			chainID                 *int64
			connectedAt             *time.Time
		)
		if err := rows.Scan(&origin, &title, &imageURL, &family, &walletAddress, &walletKind, &chainID, &connectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}

		site, ok := sites[origin]
		if !ok {
			site = &types.ConnectedSite{
				Origin:      origin,
				Title:       title,
				ImageURL:    imageURL,
				Connections: make(map[types.ChainFamily]*types.Connection),
			}
			sites[origin] = site
		}

		// LEFT JOIN: a site with zero connections yields NULL connection columns.
		if family != nil {
			conn := &types.Connection{
				Family:        *family,
				WalletAddress: *walletAddress,
				WalletKind:    *walletKind,
				ChainID:       *chainID,
			}
			if connectedAt != nil {
				conn.ConnectedAt = *connectedAt
			}
			site.Connections[*family] = conn
		}
	}

	return sites, nil
}

// Origins returns the origins that hold a live connection for the chain family.
func (r *SiteRepository) Origins(ctx context.Context, family types.ChainFamily) ([]string, error) {
	query := `SELECT origin FROM site_connections WHERE chain_family = $1`

	rows, err := r.store.pool.Query(ctx, query, family)
	if err != nil {
		return nil, fmt.Errorf("failed to list origins: %w", err)
	}
	defer rows.Close()

	var origins []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, fmt.Errorf("failed to scan origin: %w", err)
		}
		origins = append(origins, origin)
	}

	return origins, nil
}

// RemoveConnection deletes one chain family connection of an origin. The site
// record itself is kept; a site with zero connections is equivalent to "not
// connected".
func (r *SiteRepository) RemoveConnection(ctx context.Context, origin string, family types.ChainFamily) error {
	query := `DELETE FROM site_connections WHERE origin = $1 AND chain_family = $2`

	if _, err := r.store.pool.Exec(ctx, query, origin, family); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}

	return nil
}

// RemoveSite deletes an origin's site record together with all its connections.
func (r *SiteRepository) RemoveSite(ctx context.Context, origin string) error {
	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM site_connections WHERE origin = $1`, origin); err != nil {
		return fmt.Errorf("failed to remove connections: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM connected_sites WHERE origin = $1`, origin); err != nil {
		return fmt.Errorf("failed to remove site: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit site removal: %w", err)
	}

	return nil
}
