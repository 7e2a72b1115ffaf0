// Package keyring manages encrypted key material and exposes the signing
// capability behind the lockbox. Decrypted keys exist only for the duration
// of one signing call; locking the lockbox prevents new decryptions without
// aborting calls already holding material.
package keyring

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/walletgate/walletgate/pkg/types"
)

// WalletStore is the durable backend for wallet metadata and encrypted blobs.
type WalletStore interface {
	Create(ctx context.Context, wallet *types.Wallet, blobEncrypted []byte) error
	Get(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error)
	GetBlob(ctx context.Context, family types.ChainFamily, address string) ([]byte, error)
	ListByFamily(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error)
}

// SecretSource yields the current unlock secret, failing with a Locked error
// when the lockbox is locked.
type SecretSource interface {
	GetData(ctx context.Context) ([]byte, error)
}

// Keyring holds wallets and signs payloads with their decrypted keys.
type Keyring struct {
	store  WalletStore
	cipher Cipher
	secret SecretSource
}

// New creates a Keyring.
func New(store WalletStore, cipher Cipher, secret SecretSource) *Keyring {
	return &Keyring{store: store, cipher: cipher, secret: secret}
}

// Wallet returns a wallet's metadata, or nil when it does not exist.
func (k *Keyring) Wallet(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error) {
	return k.store.Get(ctx, family, address)
}

// Wallets lists all wallets of a family.
func (k *Keyring) Wallets(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error) {
	return k.store.ListByFamily(ctx, family)
}

// ImportKey encrypts privateKey under the current unlock secret and stores a
// new wallet. The address is derived from the key per family.
func (k *Keyring) ImportKey(ctx context.Context, family types.ChainFamily, kind types.WalletKind, name string, privateKey []byte, supportedChains []int64) (*types.Wallet, error) {
	secret, err := k.secret.GetData(ctx)
	if err != nil {
		return nil, err
	}

	address, err := deriveAddress(family, privateKey)
	if err != nil {
		return nil, err
	}

	blob, err := k.cipher.Encrypt(privateKey, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key: %w", err)
	}

	wallet := &types.Wallet{
		Address:         address,
		Family:          family,
		Kind:            kind,
		Name:            name,
		SupportedChains: supportedChains,
	}
	if err := k.store.Create(ctx, wallet, blob); err != nil {
		return nil, err
	}

	return wallet, nil
}

// Sign signs an opaque payload with the wallet's key. The payload is assumed
// to be the exact bytes the chain family expects to be signed; chain-specific
// hashing happens in the wallet service before this call.
func (k *Keyring) Sign(ctx context.Context, family types.ChainFamily, address string, payload []byte) ([]byte, error) {
	priv, err := k.privateKey(ctx, family, address)
	if err != nil {
		return nil, err
	}

	switch family {
	case types.ChainFamilyEVM:
		key, err := ethcrypto.ToECDSA(priv)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		sig, err := ethcrypto.Sign(payload, key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
		return sig, nil

	case types.ChainFamilySVM, types.ChainFamilyTON:
		if len(priv) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid ed25519 seed length: %d", len(priv))
		}
		key := ed25519.NewKeyFromSeed(priv)
		return ed25519.Sign(key, payload), nil

	default:
		return nil, fmt.Errorf("unknown chain family: %q", family)
	}
}

// privateKey loads and decrypts a wallet's key material. Fails with the
// lockbox's Locked error when no unlock secret is available.
func (k *Keyring) privateKey(ctx context.Context, family types.ChainFamily, address string) ([]byte, error) {
	secret, err := k.secret.GetData(ctx)
	if err != nil {
		return nil, err
	}

	blob, err := k.store.GetBlob(ctx, family, address)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("wallet not found: %s", address)
	}

	return k.cipher.Decrypt(blob, secret)
}

func deriveAddress(family types.ChainFamily, privateKey []byte) (string, error) {
	switch family {
	case types.ChainFamilyEVM:
		key, err := ethcrypto.ToECDSA(privateKey)
		if err != nil {
			return "", fmt.Errorf("failed to parse key: %w", err)
		}
		return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil

	case types.ChainFamilySVM, types.ChainFamilyTON:
		if len(privateKey) != ed25519.SeedSize {
			return "", fmt.Errorf("invalid ed25519 seed length: %d", len(privateKey))
		}
		key := ed25519.NewKeyFromSeed(privateKey)
		pub := key.Public().(ed25519.PublicKey)
		return hexutil.Encode(pub), nil

	default:
		return "", fmt.Errorf("unknown chain family: %q", family)
	}
}
