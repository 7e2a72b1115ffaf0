package dispatch

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// WalletBackend is the wallet service surface the method handlers call into.
type WalletBackend interface {
	Connect(ctx context.Context, origin, title, imageURL string, family types.ChainFamily, chainID int64) (*types.Wallet, error)
	ExistingConnection(ctx context.Context, origin string, family types.ChainFamily) (*types.Connection, error)
	Disconnect(ctx context.Context, origin string, family *types.ChainFamily) error
	SwitchChain(ctx context.Context, origin string, family types.ChainFamily, chainID int64) error
	SignMessage(ctx context.Context, family types.ChainFamily, address string, message []byte) (string, error)
	SignTypedData(ctx context.Context, address string, typedData apitypes.TypedData) (string, error)
	SignTransaction(ctx context.Context, family types.ChainFamily, address string, txBytes []byte) (string, error)
}

// registerCommon wires the methods every chain family shares: connect,
// disconnect, signMessage, signTransaction.
func registerCommon(d *Dispatcher, backend WalletBackend, approvals Approvals) {
	d.handle("connect", true, connectHandler(d, backend, approvals))
	d.handle("disconnect", false, disconnectHandler(d, backend))
	d.handle("signMessage", false, signMessageHandler(d, backend, approvals))
	d.handle("signTransaction", false, signTransactionHandler(d, backend, approvals))
}

// connect(chainId, allowMultipleProviders, shouldPrompt, pageTitle?, pageIcon?)
func connectHandler(d *Dispatcher, backend WalletBackend, approvals Approvals) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		params := rc.Request.Params
		chainID, rpcErr := paramInt64(params, 0, "chainId")
		if rpcErr != nil {
			return nil, rpcErr
		}
		if _, rpcErr = paramBool(params, 1, "allowMultipleProviders"); rpcErr != nil {
			return nil, rpcErr
		}
		shouldPrompt, rpcErr := paramBool(params, 2, "shouldPrompt")
		if rpcErr != nil {
			return nil, rpcErr
		}
		pageTitle, rpcErr := optionalString(params, 3)
		if rpcErr != nil {
			return nil, rpcErr
		}
		pageIcon, rpcErr := optionalString(params, 4)
		if rpcErr != nil {
			return nil, rpcErr
		}

		origin := rc.Sender.Origin

		// Silent path: hand back an existing connection or fail immediately.
		// Never opens UI.
		if !shouldPrompt {
			conn, err := backend.ExistingConnection(ctx, origin, d.family)
			if err != nil {
				return nil, mapError(ctx, err)
			}
			if conn == nil {
				return nil, errors.ErrNotConnected
			}
			return &ConnectResult{PublicKey: conn.WalletAddress, ChainID: conn.ChainID}, nil
		}

		payload := &types.ApprovalPayload{
			Kind:      types.ApprovalConnect,
			RequestID: rc.Request.ID,
			Family:    d.family,
			Origin:    origin,
			TabID:     rc.Sender.TabID,
			Connect: &types.ConnectPrompt{
				ChainID:   chainID,
				PageTitle: pageTitle,
				PageIcon:  pageIcon,
			},
		}
		if _, rpcErr := d.approve(ctx, approvals, payload); rpcErr != nil {
			return nil, rpcErr
		}

		wallet, err := backend.Connect(ctx, origin, pageTitle, pageIcon, d.family, chainID)
		if err != nil {
			return nil, mapError(ctx, err)
		}
		return &ConnectResult{PublicKey: wallet.Address, ChainID: chainID}, nil
	}
}

// disconnect()
func disconnectHandler(d *Dispatcher, backend WalletBackend) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		family := d.family
		if err := backend.Disconnect(ctx, rc.Sender.Origin, &family); err != nil {
			return nil, mapError(ctx, err)
		}
		return nil, nil
	}
}

// signMessage(messageHex, walletAddress, chainId). The message arrives as
// hex-encoded UTF-8 and is decoded before it reaches any surface.
func signMessageHandler(d *Dispatcher, backend WalletBackend, approvals Approvals) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		params := rc.Request.Params
		messageHex, rpcErr := paramString(params, 0, "messageHex")
		if rpcErr != nil {
			return nil, rpcErr
		}
		walletAddress, rpcErr := paramString(params, 1, "walletAddress")
		if rpcErr != nil {
			return nil, rpcErr
		}
		chainID, rpcErr := paramInt64(params, 2, "chainId")
		if rpcErr != nil {
			return nil, rpcErr
		}

		message, err := hexutil.Decode(messageHex)
		if err != nil {
			return nil, errors.BadRequest("message is not valid hex")
		}

		if rpcErr := d.checkWallet(ctx, backend, rc.Sender.Origin, walletAddress); rpcErr != nil {
			return nil, rpcErr
		}

		payload := &types.ApprovalPayload{
			Kind:      types.ApprovalSignMessage,
			RequestID: rc.Request.ID,
			Family:    d.family,
			Origin:    rc.Sender.Origin,
			TabID:     rc.Sender.TabID,
			SignMessage: &types.SignMessagePrompt{
				WalletAddress: walletAddress,
				ChainID:       chainID,
				Message:       string(message),
			},
		}
		if _, rpcErr := d.approve(ctx, approvals, payload); rpcErr != nil {
			return nil, rpcErr
		}

		sig, err := backend.SignMessage(ctx, d.family, walletAddress, message)
		if err != nil {
			return nil, mapError(ctx, err)
		}
		return &SignResult{Signature: sig}, nil
	}
}

// signTransaction(txBytes, walletAddress)
func signTransactionHandler(d *Dispatcher, backend WalletBackend, approvals Approvals) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		params := rc.Request.Params
		txHex, rpcErr := paramString(params, 0, "txBytes")
		if rpcErr != nil {
			return nil, rpcErr
		}
		walletAddress, rpcErr := paramString(params, 1, "walletAddress")
		if rpcErr != nil {
			return nil, rpcErr
		}

		txBytes, err := hexutil.Decode(txHex)
		if err != nil {
			return nil, errors.BadRequest("txBytes is not valid hex")
		}

		if rpcErr := d.checkWallet(ctx, backend, rc.Sender.Origin, walletAddress); rpcErr != nil {
			return nil, rpcErr
		}

		payload := &types.ApprovalPayload{
			Kind:      types.ApprovalSignTransaction,
			RequestID: rc.Request.ID,
			Family:    d.family,
			Origin:    rc.Sender.Origin,
			TabID:     rc.Sender.TabID,
			SignTransaction: &types.SignTransactionPrompt{
				WalletAddress: walletAddress,
				TxBytes:       txHex,
			},
		}
		if _, rpcErr := d.approve(ctx, approvals, payload); rpcErr != nil {
			return nil, rpcErr
		}

		signed, err := backend.SignTransaction(ctx, d.family, walletAddress, txBytes)
		if err != nil {
			return nil, mapError(ctx, err)
		}
		return &SignResult{Signature: signed}, nil
	}
}

// switchChain(chainId). Synchronous against an already-connected site; the
// supported-chain check and notify-after-write ordering live in the service.
func switchChainHandler(d *Dispatcher, backend WalletBackend) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		chainID, rpcErr := paramInt64(rc.Request.Params, 0, "chainId")
		if rpcErr != nil {
			return nil, rpcErr
		}
		if err := backend.SwitchChain(ctx, rc.Sender.Origin, d.family, chainID); err != nil {
			return nil, mapError(ctx, err)
		}
		return nil, nil
	}
}

// checkWallet verifies the request's wallet is the one actually connected to
// the origin. A page cannot sign with a wallet it was never granted.
func (d *Dispatcher) checkWallet(ctx context.Context, backend WalletBackend, origin, walletAddress string) *errors.RPCError {
	conn, err := backend.ExistingConnection(ctx, origin, d.family)
	if err != nil {
		return mapError(ctx, err)
	}
	if conn == nil {
		return errors.ErrNotConnected
	}
	if !strings.EqualFold(conn.WalletAddress, walletAddress) {
		return errors.BadRequest("wallet address does not match connection")
	}
	return nil
}
