package keyring

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

type memoryWalletStore struct {
	mu      sync.Mutex
	wallets map[string]*types.Wallet
	blobs   map[string][]byte
}

func newMemoryWalletStore() *memoryWalletStore {
	return &memoryWalletStore{
		wallets: make(map[string]*types.Wallet),
		blobs:   make(map[string][]byte),
	}
}

func walletKey(family types.ChainFamily, address string) string {
	return string(family) + "/" + address
}

func (m *memoryWalletStore) Create(ctx context.Context, wallet *types.Wallet, blobEncrypted []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := walletKey(wallet.Family, wallet.Address)
	m.wallets[key] = wallet
	m.blobs[key] = blobEncrypted
	return nil
}

func (m *memoryWalletStore) Get(ctx context.Context, family types.ChainFamily, address string) (*types.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[walletKey(family, address)], nil
}

func (m *memoryWalletStore) GetBlob(ctx context.Context, family types.ChainFamily, address string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[walletKey(family, address)], nil
}

func (m *memoryWalletStore) ListByFamily(ctx context.Context, family types.ChainFamily) ([]*types.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Wallet
	for _, w := range m.wallets {
		if w.Family == family {
			out = append(out, w)
		}
	}
	return out, nil
}

type fixedSecret struct {
	secret []byte
	locked bool
}

func (f *fixedSecret) GetData(ctx context.Context) ([]byte, error) {
	if f.locked {
		return nil, errors.ErrLocked
	}
	return f.secret, nil
}

func newTestKeyring() (*Keyring, *fixedSecret) {
	secret := &fixedSecret{secret: []byte("passphrase")}
	return New(newMemoryWalletStore(), NewSecretboxCipher(), secret), secret
}

func TestImportAndSignSVM(t *testing.T) {
	kr, _ := newTestKeyring()
	ctx := context.Background()

	seed := make([]byte, ed25519.SeedSize)
	copy(seed, []byte("deterministic seed for testing!!"))

	wallet, err := kr.ImportKey(ctx, types.ChainFamilySVM, types.WalletKindEOA, "main", seed, nil)
	require.NoError(t, err)

	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)
	assert.Equal(t, hexutil.Encode(pub), wallet.Address)

	payload := []byte("sign me")
	sig, err := kr.Sign(ctx, types.ChainFamilySVM, wallet.Address, payload)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, payload, sig))
}

func TestImportAndSignEVM(t *testing.T) {
	kr, _ := newTestKeyring()
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	wallet, err := kr.ImportKey(ctx, types.ChainFamilyEVM, types.WalletKindEOA, "main", ethcrypto.FromECDSA(key), nil)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), wallet.Address)

	digest := ethcrypto.Keccak256([]byte("sign me"))
	sig, err := kr.Sign(ctx, types.ChainFamilyEVM, wallet.Address, digest)
	require.NoError(t, err)

	recovered, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), ethcrypto.PubkeyToAddress(*recovered))
}

func TestSignWhileLocked(t *testing.T) {
	kr, secret := newTestKeyring()
	ctx := context.Background()

	seed := make([]byte, ed25519.SeedSize)
	wallet, err := kr.ImportKey(ctx, types.ChainFamilySVM, types.WalletKindEOA, "main", seed, nil)
	require.NoError(t, err)

	secret.locked = true

	_, err = kr.Sign(ctx, types.ChainFamilySVM, wallet.Address, []byte("payload"))
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeLocked, rpcErr.Code)
}

func TestImportWhileLocked(t *testing.T) {
	kr, secret := newTestKeyring()
	secret.locked = true

	seed := make([]byte, ed25519.SeedSize)
	_, err := kr.ImportKey(context.Background(), types.ChainFamilySVM, types.WalletKindEOA, "main", seed, nil)
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeLocked, rpcErr.Code)
}

func TestSignUnknownWallet(t *testing.T) {
	kr, _ := newTestKeyring()

	_, err := kr.Sign(context.Background(), types.ChainFamilySVM, "0xdeadbeef", []byte("payload"))
	assert.Error(t, err)
}
