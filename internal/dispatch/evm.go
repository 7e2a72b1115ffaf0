package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// NewEVM builds the EVM dispatcher. On top of the common methods it serves
// signTypedData and switchChain.
func NewEVM(backend WalletBackend, approvals Approvals, connections ConnectionSource, limiter *OriginLimiter, timeout time.Duration) *Dispatcher {
	d := newDispatcher(types.ChainFamilyEVM, connections, limiter, timeout)
	registerCommon(d, backend, approvals)
	d.handle("signTypedData", false, signTypedDataHandler(d, backend, approvals))
	d.handle("switchChain", false, switchChainHandler(d, backend))
	return d
}

// signTypedData(jsonString, walletAddress, chainId). The structure is
// sanitized before it reaches a surface or the signer.
func signTypedDataHandler(d *Dispatcher, backend WalletBackend, approvals Approvals) Handler {
	return func(ctx context.Context, rc *types.RequestContext) (any, *errors.RPCError) {
		params := rc.Request.Params
		jsonString, rpcErr := paramString(params, 0, "jsonString")
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

		var typedData apitypes.TypedData
		if err := json.Unmarshal([]byte(jsonString), &typedData); err != nil {
			return nil, errors.BadRequest("typed data is not valid JSON")
		}
		sanitizeTypedData(&typedData)

		if rpcErr := d.checkWallet(ctx, backend, rc.Sender.Origin, walletAddress); rpcErr != nil {
			return nil, rpcErr
		}

		sanitized, err := json.Marshal(typedData)
		if err != nil {
			return nil, errors.BadRequest("typed data cannot be re-encoded")
		}

		payload := &types.ApprovalPayload{
			Kind:      types.ApprovalSignTypedData,
			RequestID: rc.Request.ID,
			Family:    d.family,
			Origin:    rc.Sender.Origin,
			TabID:     rc.Sender.TabID,
			SignTypedData: &types.SignTypedDataPrompt{
				WalletAddress: walletAddress,
				ChainID:       chainID,
				TypedData:     sanitized,
			},
		}
		if _, rpcErr := d.approve(ctx, approvals, payload); rpcErr != nil {
			return nil, rpcErr
		}

		sig, err := backend.SignTypedData(ctx, walletAddress, typedData)
		if err != nil {
			return nil, mapError(ctx, err)
		}
		return &SignResult{Signature: sig}, nil
	}
}
