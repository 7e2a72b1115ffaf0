package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

type fakeBackend struct {
	mu          sync.Mutex
	connections map[string]*types.Connection
	connected   []string
	signatures  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{connections: make(map[string]*types.Connection)}
}

func connKey(origin string, family types.ChainFamily) string {
	return origin + "/" + string(family)
}

func (f *fakeBackend) addConnection(origin string, family types.ChainFamily, address string, chainID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections[connKey(origin, family)] = &types.Connection{
		WalletAddress: address,
		WalletKind:    types.WalletKindEOA,
		ChainID:       chainID,
		Family:        family,
	}
}

func (f *fakeBackend) Connect(ctx context.Context, origin, title, imageURL string, family types.ChainFamily, chainID int64) (*types.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, origin)
	f.connections[connKey(origin, family)] = &types.Connection{
		WalletAddress: "0xwallet", WalletKind: types.WalletKindEOA, ChainID: chainID, Family: family,
	}
	return &types.Wallet{Address: "0xwallet", Family: family, Kind: types.WalletKindEOA}, nil
}

func (f *fakeBackend) ExistingConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections[connKey(origin, family)], nil
}

func (f *fakeBackend) Disconnect(ctx context.Context, origin string, family *types.ChainFamily) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if family != nil {
		delete(f.connections, connKey(origin, *family))
	}
	return nil
}

func (f *fakeBackend) SwitchChain(ctx context.Context, origin string, family types.ChainFamily, chainID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[connKey(origin, family)]
	if !ok {
		return errors.ErrNotConnected
	}
	conn.ChainID = chainID
	return nil
}

func (f *fakeBackend) SignMessage(ctx context.Context, family types.ChainFamily, address string, message []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures++
	return "0xsig", nil
}

func (f *fakeBackend) SignTypedData(ctx context.Context, address string, typedData apitypes.TypedData) (string, error) {
	return "0xsig", nil
}

func (f *fakeBackend) SignTransaction(ctx context.Context, family types.ChainFamily, address string, txBytes []byte) (string, error) {
	return "0xsigned", nil
}

// approveAll records every payload and approves it.
type approveAll struct {
	mu       sync.Mutex
	payloads []*types.ApprovalPayload
	reject   string // error code to reject with, empty approves
}

func (a *approveAll) RequestUIAction(ctx context.Context, payload *types.ApprovalPayload) (*types.ApprovalResult, error) {
	a.mu.Lock()
	a.payloads = append(a.payloads, payload)
	reject := a.reject
	a.mu.Unlock()

	return &types.ApprovalResult{
		RequestID: payload.RequestID,
		TabID:     payload.TabID,
		Family:    payload.Family,
		ErrorCode: reject,
	}, nil
}

func (a *approveAll) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.payloads)
}

func rawParams(values ...any) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		out[i] = raw
	}
	return out
}

func request(id, method string, params ...any) *types.RequestContext {
	return &types.RequestContext{
		Request: types.RPCRequest{ID: id, Method: method, Params: rawParams(params...)},
		Sender:  types.Sender{Origin: "https://dapp.example", TabID: 3},
	}
}

func newTestEVM(backend *fakeBackend, approvals Approvals) *Dispatcher {
	return NewEVM(backend, approvals, backend, nil, time.Second)
}

func (f *fakeBackend) Connection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error) {
	return f.ExistingConnection(ctx, origin, family)
}

func TestRejectsMissingOrigin(t *testing.T) {
	d := newTestEVM(newFakeBackend(), &approveAll{})

	rc := request("req-1", "connect", 1, false, true)
	rc.Sender.Origin = ""

	_, rpcErr := d.Dispatch(context.Background(), rc)
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeInvalidOrigin, rpcErr.Code)
}

func TestUnknownMethod(t *testing.T) {
	d := newTestEVM(newFakeBackend(), &approveAll{})

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "mintMoney"))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeUnknownMethod, rpcErr.Code)
}

func TestConnectionGate(t *testing.T) {
	d := newTestEVM(newFakeBackend(), &approveAll{})

	// Every non-connect method requires an existing connection.
	for _, method := range []string{"disconnect", "signMessage", "signTransaction", "signTypedData", "switchChain"} {
		_, rpcErr := d.Dispatch(context.Background(), request("req-1", method))
		require.NotNil(t, rpcErr, method)
		assert.Equal(t, errors.ErrCodeNotConnected, rpcErr.Code, method)
	}
}

func TestConnectPromptApproved(t *testing.T) {
	backend := newFakeBackend()
	approvals := &approveAll{}
	d := newTestEVM(backend, approvals)

	result, rpcErr := d.Dispatch(context.Background(), request("req-1", "connect", 1, false, true, "Dapp", "https://dapp.example/icon.png"))
	require.Nil(t, rpcErr)

	connect, ok := result.(*ConnectResult)
	require.True(t, ok)
	assert.Equal(t, "0xwallet", connect.PublicKey)
	assert.Equal(t, int64(1), connect.ChainID)

	require.Equal(t, 1, approvals.count())
	payload := approvals.payloads[0]
	assert.Equal(t, types.ApprovalConnect, payload.Kind)
	assert.Equal(t, "req-1", payload.RequestID)
	assert.Equal(t, "Dapp", payload.Connect.PageTitle)
}

func TestConnectPromptRejected(t *testing.T) {
	backend := newFakeBackend()
	d := newTestEVM(backend, &approveAll{reject: errors.ErrCodeUserRejected})

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "connect", 1, false, true))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeUserRejected, rpcErr.Code)
	assert.Empty(t, backend.connected)
}

func TestSilentConnectReturnsExisting(t *testing.T) {
	backend := newFakeBackend()
	backend.addConnection("https://dapp.example", types.ChainFamilyEVM, "0xabc", 137)
	approvals := &approveAll{}
	d := newTestEVM(backend, approvals)

	result, rpcErr := d.Dispatch(context.Background(), request("req-1", "connect", 1, false, false))
	require.Nil(t, rpcErr)

	connect := result.(*ConnectResult)
	assert.Equal(t, "0xabc", connect.PublicKey)
	assert.Equal(t, int64(137), connect.ChainID)

	// The silent path never opens UI.
	assert.Zero(t, approvals.count())
}

func TestSilentConnectFailsWithoutConnection(t *testing.T) {
	approvals := &approveAll{}
	d := newTestEVM(newFakeBackend(), approvals)

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "connect", 1, false, false))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeNotConnected, rpcErr.Code)
	assert.Zero(t, approvals.count())
}

func TestSignMessageDecodesHexForPrompt(t *testing.T) {
	backend := newFakeBackend()
	backend.addConnection("https://dapp.example", types.ChainFamilyEVM, "0xabc", 1)
	approvals := &approveAll{}
	d := newTestEVM(backend, approvals)

	messageHex := hexutil.Encode([]byte("hello, wallet"))
	result, rpcErr := d.Dispatch(context.Background(), request("req-1", "signMessage", messageHex, "0xabc", 1))
	require.Nil(t, rpcErr)

	sign := result.(*SignResult)
	assert.Equal(t, "0xsig", sign.Signature)

	require.Equal(t, 1, approvals.count())
	prompt := approvals.payloads[0].SignMessage
	require.NotNil(t, prompt)
	// The surface sees decoded text, never raw hex.
	assert.Equal(t, "hello, wallet", prompt.Message)
}

func TestSignMessageRejectsBadHex(t *testing.T) {
	backend := newFakeBackend()
	backend.addConnection("https://dapp.example", types.ChainFamilyEVM, "0xabc", 1)
	d := newTestEVM(backend, &approveAll{})

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "signMessage", "not hex", "0xabc", 1))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeBadRequest, rpcErr.Code)
}

func TestSignMessageRejectsForeignWallet(t *testing.T) {
	backend := newFakeBackend()
	backend.addConnection("https://dapp.example", types.ChainFamilyEVM, "0xabc", 1)
	d := newTestEVM(backend, &approveAll{})

	messageHex := hexutil.Encode([]byte("hello"))
	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "signMessage", messageHex, "0xother", 1))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeBadRequest, rpcErr.Code)
}

func TestSwitchChainSynchronous(t *testing.T) {
	backend := newFakeBackend()
	backend.addConnection("https://dapp.example", types.ChainFamilyEVM, "0xabc", 1)
	approvals := &approveAll{}
	d := newTestEVM(backend, approvals)

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "switchChain", 137))
	require.Nil(t, rpcErr)
	assert.Zero(t, approvals.count())

	conn, _ := backend.ExistingConnection(context.Background(), "https://dapp.example", types.ChainFamilyEVM)
	assert.Equal(t, int64(137), conn.ChainID)
}

func TestRateLimit(t *testing.T) {
	backend := newFakeBackend()
	limiter := NewOriginLimiter(1, 1, true)
	d := NewEVM(backend, &approveAll{}, backend, limiter, time.Second)

	// First request consumes the burst; the second is shed.
	d.Dispatch(context.Background(), request("req-1", "connect", 1, false, false))
	_, rpcErr := d.Dispatch(context.Background(), request("req-2", "connect", 1, false, false))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeRateLimited, rpcErr.Code)
}

func TestMissingParams(t *testing.T) {
	d := newTestEVM(newFakeBackend(), &approveAll{})

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "connect"))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeBadRequest, rpcErr.Code)
}

func TestSVMHasNoTypedData(t *testing.T) {
	backend := newFakeBackend()
	d := NewSVM(backend, &approveAll{}, backend, nil, time.Second)

	backend.addConnection("https://dapp.example", types.ChainFamilySVM, "svm1", 101)

	_, rpcErr := d.Dispatch(context.Background(), request("req-1", "signTypedData", "{}", "svm1", 101))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeUnknownMethod, rpcErr.Code)
}

func TestDispatchOutcomePerFamilyTopic(t *testing.T) {
	backend := newFakeBackend()
	evm := NewEVM(backend, &approveAll{}, backend, nil, time.Second)
	svm := NewSVM(backend, &approveAll{}, backend, nil, time.Second)
	ton := NewTON(backend, &approveAll{}, backend, nil, time.Second)

	assert.Equal(t, "wallet/evm", evm.Topic())
	assert.Equal(t, "wallet/svm", svm.Topic())
	assert.Equal(t, "wallet/ton", ton.Topic())
}

func TestBusHandlerMalformedRequest(t *testing.T) {
	d := newTestEVM(newFakeBackend(), &approveAll{})
	h := d.BusHandler()

	peer := transport.Peer{Kind: transport.ContextPage, Origin: "https://dapp.example", TabID: 3}
	_, rpcErr := h(context.Background(), peer, json.RawMessage(`{not json`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrCodeBadRequest, rpcErr.Code)
}
