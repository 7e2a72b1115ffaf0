// Package app holds the gateway's business logic: wallet selection, site
// connections, chain switching, and the chain-specific signing paths that sit
// between the dispatchers and the keyring.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// KeyringAPI is the signing backend.
type KeyringAPI interface {
	Wallet(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error)
	Wallets(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error)
	ImportKey(ctx context.Context, family types.ChainFamily, kind types.WalletKind, name string, privateKey []byte, supportedChains []int64) (*types.Wallet, error)
	Sign(ctx context.Context, family types.ChainFamily, address string, payload []byte) ([]byte, error)
}

// ConnectionRegistry is the per-origin connection table.
type ConnectionRegistry interface {
	GetSites(ctx context.Context) (map[string]*types.ConnectedSite, error)
	AddConnection(ctx context.Context, origin, title, imageURL string, wallet *types.Wallet, chainID int64) error
	RemoveConnection(ctx context.Context, origin string, family *types.ChainFamily) error
	Connection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error)
	SetChainID(ctx context.Context, origin string, family types.ChainFamily, chainID int64) error
}

// PreferenceStore is the durable preference backend.
type PreferenceStore interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// EventNotifier pushes wallet events to connected tabs.
type EventNotifier interface {
	Connected(origin string, family types.ChainFamily, publicKey string, chainID int64)
	Disconnected(origin string, family types.ChainFamily)
	ChainIDUpdated(origin string, family types.ChainFamily, chainID int64)
	ActiveWalletUpdated(ctx context.Context, family types.ChainFamily, publicKey string)
}

// WalletService implements the gateway's wallet operations.
type WalletService struct {
	keyring  KeyringAPI
	registry ConnectionRegistry
	prefs    PreferenceStore
	notifier EventNotifier
}

// NewWalletService creates a new WalletService
func NewWalletService(keyring KeyringAPI, registry ConnectionRegistry, prefs PreferenceStore, notifier EventNotifier) *WalletService {
	return &WalletService{
		keyring:  keyring,
		registry: registry,
		prefs:    prefs,
		notifier: notifier,
	}
}

// SelectedWallet returns the family's selected wallet, or nil when none is
// selected.
func (s *WalletService) SelectedWallet(ctx context.Context, family types.ChainFamily) (*types.Wallet, error) {
	var address string
	found, err := s.prefs.Get(ctx, storage.SelectedWalletKey(string(family)), &address)
	if err != nil {
		return nil, err
	}
	if !found || address == "" {
		return nil, nil
	}
	return s.keyring.Wallet(ctx, family, address)
}

// SelectWallet makes a wallet the family's active one and broadcasts the
// change to every tab holding a connection for the family.
func (s *WalletService) SelectWallet(ctx context.Context, family types.ChainFamily, address string) error {
	wallet, err := s.keyring.Wallet(ctx, family, address)
	if err != nil {
		return err
	}
	if wallet == nil {
		return fmt.Errorf("wallet not found: %s", address)
	}

	if err := s.prefs.Set(ctx, storage.SelectedWalletKey(string(family)), address); err != nil {
		return err
	}

	s.notifier.ActiveWalletUpdated(ctx, family, address)
	return nil
}

// ImportWallet imports a private key. The first wallet of a family becomes
// its selected wallet.
func (s *WalletService) ImportWallet(ctx context.Context, family types.ChainFamily, kind types.WalletKind, name string, privateKey []byte, supportedChains []int64) (*types.Wallet, error) {
	existing, err := s.keyring.Wallets(ctx, family)
	if err != nil {
		return nil, err
	}

	wallet, err := s.keyring.ImportKey(ctx, family, kind, name, privateKey, supportedChains)
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		if err := s.prefs.Set(ctx, storage.SelectedWalletKey(string(family)), wallet.Address); err != nil {
			return nil, err
		}
	}
	return wallet, nil
}

// Wallets lists the family's wallets.
func (s *WalletService) Wallets(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error) {
	return s.keyring.Wallets(ctx, family)
}

// Sites returns every connected site keyed by origin.
func (s *WalletService) Sites(ctx context.Context) (map[string]*types.ConnectedSite, error) {
	return s.registry.GetSites(ctx)
}

// Connect binds the family's selected wallet to the origin on chainID and
// notifies the origin's tabs. Fails when no wallet is selected or the wallet
// does not support the chain.
func (s *WalletService) Connect(ctx context.Context, origin, title, imageURL string, family types.ChainFamily, chainID int64) (*types.Wallet, error) {
	wallet, err := s.SelectedWallet(ctx, family)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errors.ErrNoWalletSelected
	}
	if !wallet.SupportsChain(chainID) {
		return nil, errors.UnsupportedNetwork(chainID)
	}

	if err := s.registry.AddConnection(ctx, origin, title, imageURL, wallet, chainID); err != nil {
		return nil, err
	}

	s.notifier.Connected(origin, family, wallet.Address, chainID)
	logger.Info(ctx, "site connected",
		"connect_origin", origin, "chain_family", string(family), "chain_id", chainID)
	return wallet, nil
}

// ExistingConnection returns the origin's live connection for a silent
// connect, or nil when the site must go through approval. A connection whose
// wallet has since been removed, or whose chain the wallet no longer
// supports, does not count.
func (s *WalletService) ExistingConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	conn, err := s.registry.Connection(ctx, origin, family)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, nil
	}

	wallet, err := s.keyring.Wallet(ctx, family, conn.WalletAddress)
	if err != nil {
		return nil, err
	}
	if wallet == nil || !wallet.SupportsChain(conn.ChainID) {
		return nil, nil
	}
	return conn, nil
}

// Disconnect removes the origin's connection for one family, or the whole
// site when family is nil. Each removed family's tabs get a disconnected
// event.
func (s *WalletService) Disconnect(ctx context.Context, origin string, family *types.ChainFamily) error {
	var removed []types.ChainFamily
	if family != nil {
		removed = []types.ChainFamily{*family}
	} else {
		sites, err := s.registry.GetSites(ctx)
		if err != nil {
			return err
		}
		if site, ok := sites[origin]; ok {
			for f := range site.Connections {
				removed = append(removed, f)
			}
		}
	}

	if err := s.registry.RemoveConnection(ctx, origin, family); err != nil {
		return err
	}

	for _, f := range removed {
		s.notifier.Disconnected(origin, f)
	}
	return nil
}

// SwitchChain moves the origin's connection to chainID and notifies its tabs
// after the registry write succeeds.
func (s *WalletService) SwitchChain(ctx context.Context, origin string, family types.ChainFamily, chainID int64) error {
	conn, err := s.registry.Connection(ctx, origin, family)
	if err != nil {
		return err
	}
	if conn == nil {
		return errors.ErrNotConnected
	}

	wallet, err := s.keyring.Wallet(ctx, family, conn.WalletAddress)
	if err != nil {
		return err
	}
	if wallet == nil || !wallet.SupportsChain(chainID) {
		return errors.UnsupportedNetwork(chainID)
	}

	if err := s.registry.SetChainID(ctx, origin, family, chainID); err != nil {
		return err
	}

	s.notifier.ChainIDUpdated(origin, family, chainID)
	return nil
}

// SignMessage signs a plain-text message. EVM messages are hashed with the
// personal-message prefix; other families sign the raw bytes.
func (s *WalletService) SignMessage(ctx context.Context, family types.ChainFamily, address string, message []byte) (string, error) {
	payload := message
	if family == types.ChainFamilyEVM {
		payload = accounts.TextHash(message)
	}

	sig, err := s.keyring.Sign(ctx, family, address, payload)
	if err != nil {
		return "", err
	}
	if family == types.ChainFamilyEVM {
		// Recovery id to legacy V.
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

// SignTypedData signs structured data over its EIP-712 digest.
func (s *WalletService) SignTypedData(ctx context.Context, address string, typedData apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := s.keyring.Sign(ctx, types.ChainFamilyEVM, address, hash)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// SignTransaction signs an encoded transaction and returns the signed bytes.
// EVM transactions are decoded and re-encoded with the signature; other
// families treat the bytes as the opaque signing payload and return the raw
// signature.
func (s *WalletService) SignTransaction(ctx context.Context, family types.ChainFamily, address string, txBytes []byte) (string, error) {
	if family != types.ChainFamilyEVM {
		sig, err := s.keyring.Sign(ctx, family, address, txBytes)
		if err != nil {
			return "", err
		}
		return hexutil.Encode(sig), nil
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	signer := ethtypes.LatestSignerForChainID(tx.ChainId())
	sig, err := s.keyring.Sign(ctx, family, address, signer.Hash(tx).Bytes())
	if err != nil {
		return "", err
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return "", fmt.Errorf("failed to attach signature: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}
