package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/walletgate/walletgate/pkg/types"
)

// KeyringRepository stores wallet metadata together with the encrypted key
// blobs. Blobs are opaque here; only the keyring service can decrypt them.
type KeyringRepository struct {
	store *Store
}

// NewKeyringRepository creates a new KeyringRepository
func NewKeyringRepository(store *Store) *KeyringRepository {
	return &KeyringRepository{store: store}
}

// Create stores a wallet record with its encrypted key blob.
func (r *KeyringRepository) Create(ctx context.Context, wallet *types.Wallet, blobEncrypted []byte) error {
	query := `
		INSERT INTO keyring_wallets (address, chain_family, kind, name, supported_chains, blob_encrypted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.store.pool.QueryRow(ctx, query,
		wallet.Address,
		wallet.Family,
		wallet.Kind,
		wallet.Name,
		wallet.SupportedChains,
		blobEncrypted,
	).Scan(&wallet.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create keyring wallet: %w", err)
	}

	return nil
}

// Get retrieves a wallet's metadata by family and address. Returns nil when
// the wallet does not exist.
func (r *KeyringRepository) Get(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error) {
	query := `
		SELECT address, chain_family, kind, name, supported_chains, created_at
		FROM keyring_wallets
		WHERE chain_family = $1 AND address = $2
	`

	var wallet types.Wallet
	err := r.store.pool.QueryRow(ctx, query, family, address).Scan(
		&wallet.Address,
		&wallet.Family,
		&wallet.Kind,
		&wallet.Name,
		&wallet.SupportedChains,
		&wallet.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get keyring wallet: %w", err)
	}

	return &wallet, nil
}

// GetBlob retrieves the encrypted key blob of a wallet. Returns nil when the
// wallet does not exist.
func (r *KeyringRepository) GetBlob(ctx context.Context, family types.ChainFamily, address string) ([]byte, error) {
	query := `
		SELECT blob_encrypted
		FROM keyring_wallets
		WHERE chain_family = $1 AND address = $2
	`

	var blob []byte
	err := r.store.pool.QueryRow(ctx, query, family, address).Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key blob: %w", err)
	}

	return blob, nil
}

// ListByFamily retrieves all wallets of one chain family.
func (r *KeyringRepository) ListByFamily(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error) {
	query := `
		SELECT address, chain_family, kind, name, supported_chains, created_at
		FROM keyring_wallets
		WHERE chain_family = $1
		ORDER BY created_at
	`

	rows, err := r.store.pool.Query(ctx, query, family)
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		var wallet types.Wallet
		err := rows.Scan(
			&wallet.Address,
			&wallet.Family,
			&wallet.Kind,
			&wallet.Name,
			&wallet.SupportedChains,
			&wallet.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyring wallet: %w", err)
		}
		wallets = append(wallets, &wallet)
	}

	return wallets, nil
}

// Delete removes a wallet and its key blob.
func (r *KeyringRepository) Delete(ctx context.Context, family types.ChainFamily, address string) error {
	query := `DELETE FROM keyring_wallets WHERE chain_family = $1 AND address = $2`

	tag, err := r.store.pool.Exec(ctx, query, family, address)
	if err != nil {
		return fmt.Errorf("failed to delete keyring wallet: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found")
	}

	return nil
}
