//go:build integration

// Package integration contains full-flow tests: a page context attached over
// the in-process pipe transport, through the dispatchers and the approval
// orchestrator, down to signing with real key material. No external services
// are required.
//
// Run with: go test -v -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletgate/walletgate/internal/alarms"
	"github.com/walletgate/walletgate/internal/app"
	"github.com/walletgate/walletgate/internal/approval"
	"github.com/walletgate/walletgate/internal/dispatch"
	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/lockbox"
	"github.com/walletgate/walletgate/internal/notify"
	"github.com/walletgate/walletgate/internal/registry"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/internal/ui"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
	"github.com/walletgate/walletgate/tests/mocks"
)

const (
	testOrigin  = "https://dapp.example"
	testTimeout = 2 * time.Second
)

// gateway is a fully wired gateway over in-memory stores and pipe transport.
type gateway struct {
	bus          *transport.Bus
	orchestrator *approval.Orchestrator
	service      *app.WalletService
	lockbox      *lockbox.Lockbox
	opener       *mocks.PopupOpener
	approvals    *mocks.ApprovalStore
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	session := storage.NewSession()
	siteStore := mocks.NewSiteStore()
	walletStore := mocks.NewWalletStore()
	prefStore := mocks.NewPreferenceStore()
	alarmStore := mocks.NewAlarmStore()
	approvalStore := mocks.NewApprovalStore()

	bus := transport.NewBus("test-token", testTimeout)
	scheduler := alarms.NewScheduler(alarmStore)
	lb := lockbox.New(session, prefStore, scheduler, 15)
	kr := keyring.New(walletStore, keyring.NewSecretboxCipher(), lb)
	reg := registry.New(siteStore, bus)
	notifier := notify.New(bus, reg)
	service := app.NewWalletService(kr, reg, prefStore, notifier)

	opener := mocks.NewPopupOpener()
	uiManager := ui.NewManager(session, bus, opener)
	orchestrator := approval.NewOrchestrator(uiManager, approvalStore, bus)

	limiter := dispatch.NewOriginLimiter(0, 0, false)
	dispatchers := []*dispatch.Dispatcher{
		dispatch.NewEVM(service, orchestrator, reg, limiter, testTimeout),
		dispatch.NewSVM(service, orchestrator, reg, limiter, testTimeout),
		dispatch.NewTON(service, orchestrator, reg, limiter, testTimeout),
	}
	for _, d := range dispatchers {
		bus.Handle(d.Topic(), d.BusHandler())
	}
	bus.OnPeerClosed(func(peer transport.Peer) {
		switch peer.Kind {
		case transport.ContextPopup:
			orchestrator.RejectSurface(context.Background(), types.SurfacePopup, peer.WindowID)
		case transport.ContextSidePanel:
			orchestrator.RejectSurface(context.Background(), types.SurfaceSidePanel, peer.WindowID)
		}
	})

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, orchestrator.SweepOrphans(context.Background()))

	return &gateway{
		bus:          bus,
		orchestrator: orchestrator,
		service:      service,
		lockbox:      lb,
		opener:       opener,
		approvals:    approvalStore,
	}
}

// attach connects a context to the bus over a pipe and returns its client
// channel.
func (g *gateway) attach(t *testing.T, peer transport.Peer) *transport.Channel {
	t.Helper()

	server, client := transport.NewPipe()
	busCh := g.bus.Attach(server, peer)
	go busCh.Run(context.Background())

	ch := transport.NewChannel(client, testTimeout)
	go ch.Run(context.Background())
	t.Cleanup(func() { ch.Close() })
	return ch
}

func (g *gateway) attachPage(t *testing.T, origin string, tabID int) *transport.Channel {
	return g.attach(t, transport.Peer{Kind: transport.ContextPage, Origin: origin, TabID: tabID})
}

// unlockAndImportEVM unlocks the keyring and imports a fresh secp256k1 key.
func (g *gateway) unlockAndImportEVM(t *testing.T) *types.Wallet {
	t.Helper()

	require.NoError(t, g.lockbox.Unlock(context.Background(), []byte("correct horse battery"), false))

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := g.service.ImportWallet(context.Background(),
		types.ChainFamilyEVM, types.WalletKindEOA, "main", ethcrypto.FromECDSA(key), nil)
	require.NoError(t, err)
	return wallet
}

// resolveWhenPending acts as the approval surface: once the request shows up
// in the orchestrator it delivers the given verdict.
func (g *gateway) resolveWhenPending(requestID string, result *types.ApprovalResult) {
	go func() {
		for i := 0; i < 400; i++ {
			if g.orchestrator.Payload(requestID) != nil {
				result.RequestID = requestID
				g.orchestrator.Resolve(context.Background(), result)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func rpcParams(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestConnectAndSignFlow(t *testing.T) {
	g := newGateway(t)
	wallet := g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)
	ctx := context.Background()

	// Prompted connect, approved by the surface.
	g.resolveWhenPending("req-connect", &types.ApprovalResult{})
	var connected dispatch.ConnectResult
	err := page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-connect",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, true, "Example Dapp", ""),
	}, &connected)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, connected.PublicKey)
	assert.Equal(t, int64(1), connected.ChainID)
	assert.Equal(t, 1, g.opener.Opened())

	// Silent reconnect needs no surface.
	var silent dispatch.ConnectResult
	err = page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-silent",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, false),
	}, &silent)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, silent.PublicKey)
	assert.Equal(t, 1, g.opener.Opened())

	// Sign a message; the signature must recover to the connected wallet.
	message := []byte("approve me")
	g.resolveWhenPending("req-sign", &types.ApprovalResult{})
	var signed dispatch.SignResult
	err = page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-sign",
		Method: "signMessage",
		Params: rpcParams(t, hexutil.Encode(message), wallet.Address, int64(1)),
	}, &signed)
	require.NoError(t, err)

	sig, err := hexutil.Decode(signed.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), sig)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, ethcrypto.PubkeyToAddress(*pub).Hex())

	// Resolution removed the persisted pending rows.
	assert.Equal(t, 0, g.approvals.Pending())
}

func TestSilentConnectBeforeApproval(t *testing.T) {
	g := newGateway(t)
	g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)

	err := page.Request(context.Background(), "wallet/evm", types.RPCRequest{
		ID:     "req-silent",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, false),
	}, nil)
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeNotConnected, rpcErr.Code)
	assert.Equal(t, 0, g.opener.Opened())
}

func TestRejectedConnectLeavesNoConnection(t *testing.T) {
	g := newGateway(t)
	g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)
	ctx := context.Background()

	g.resolveWhenPending("req-connect", &types.ApprovalResult{ErrorCode: errors.ErrCodeUserRejected})
	err := page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-connect",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, true),
	}, nil)
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeUserRejected, rpcErr.Code)

	// The rejection must not have left a connection behind.
	err = page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-silent",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, false),
	}, nil)
	rpcErr, ok = errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeNotConnected, rpcErr.Code)
}

func TestClosingPopupRejectsItsApproval(t *testing.T) {
	g := newGateway(t)
	g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)

	type connectOutcome struct {
		err error
	}
	outcome := make(chan connectOutcome, 1)
	go func() {
		err := page.Request(context.Background(), "wallet/evm", types.RPCRequest{
			ID:     "req-connect",
			Method: "connect",
			Params: rpcParams(t, int64(1), false, true),
		}, nil)
		outcome <- connectOutcome{err: err}
	}()

	// Wait for the approval to surface, then attach the popup context the
	// opener created and close it.
	require.Eventually(t, func() bool {
		return g.orchestrator.Payload("req-connect") != nil
	}, testTimeout, 5*time.Millisecond)

	popup := g.attach(t, transport.Peer{Kind: transport.ContextPopup, WindowID: 100})
	popup.Close()

	select {
	case res := <-outcome:
		rpcErr, ok := errors.IsRPCError(res.err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrCodeUserRejected, rpcErr.Code)
	case <-time.After(testTimeout):
		t.Fatal("connect did not resolve after popup closed")
	}
}

func TestSigningWhileLockedFails(t *testing.T) {
	g := newGateway(t)
	wallet := g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)
	ctx := context.Background()

	g.resolveWhenPending("req-connect", &types.ApprovalResult{})
	err := page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-connect",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, true),
	}, nil)
	require.NoError(t, err)

	g.lockbox.Lock(ctx)

	// The approval still surfaces; the failure happens at signing time.
	g.resolveWhenPending("req-sign", &types.ApprovalResult{})
	err = page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-sign",
		Method: "signMessage",
		Params: rpcParams(t, hexutil.Encode([]byte("too late")), wallet.Address, int64(1)),
	}, nil)
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeLocked, rpcErr.Code)
}

func TestOrphanedApprovalsRejectedOnStartup(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	// A pending row left behind by a previous process.
	require.NoError(t, g.approvals.Create(ctx, &types.PendingApproval{
		RequestID:   "req-orphan",
		Family:      types.ChainFamilyEVM,
		TabID:       7,
		SurfaceKind: types.SurfacePopup,
	}))

	page := g.attachPage(t, testOrigin, 7)
	responses := make(chan types.RPCResponse, 1)
	page.Handle(approval.TopicWalletResponse, func(ctx context.Context, env transport.Envelope) (any, *errors.RPCError) {
		var resp types.RPCResponse
		if err := json.Unmarshal(env.Payload, &resp); err == nil {
			responses <- resp
		}
		return nil, nil
	})

	require.NoError(t, g.orchestrator.SweepOrphans(ctx))

	select {
	case resp := <-responses:
		assert.Equal(t, "req-orphan", resp.ID)
		require.NotNil(t, resp.Error)
		assert.Equal(t, errors.ErrCodeUserRejected, resp.Error.Code)
	case <-time.After(testTimeout):
		t.Fatal("no out-of-band rejection received")
	}
	assert.Equal(t, 0, g.approvals.Pending())
}

func TestChainFamiliesAreIsolated(t *testing.T) {
	g := newGateway(t)
	g.unlockAndImportEVM(t)
	page := g.attachPage(t, testOrigin, 7)
	ctx := context.Background()

	g.resolveWhenPending("req-connect", &types.ApprovalResult{})
	err := page.Request(ctx, "wallet/evm", types.RPCRequest{
		ID:     "req-connect",
		Method: "connect",
		Params: rpcParams(t, int64(1), false, true),
	}, nil)
	require.NoError(t, err)

	// The EVM connection grants nothing on the SVM dispatcher.
	err = page.Request(ctx, "wallet/svm", types.RPCRequest{
		ID:     "req-svm",
		Method: "connect",
		Params: rpcParams(t, int64(101), false, false),
	}, nil)
	rpcErr, ok := errors.IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeNotConnected, rpcErr.Code)
}
