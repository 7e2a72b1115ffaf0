package dispatch

import (
	"time"

	"github.com/walletgate/walletgate/pkg/types"
)

// NewTON builds the TON dispatcher. TON wallets are chain-bound smart
// wallets, so switchChain is served and validated against the wallet's
// supported-chain set.
func NewTON(backend WalletBackend, approvals Approvals, connections ConnectionSource, limiter *OriginLimiter, timeout time.Duration) *Dispatcher {
	d := newDispatcher(types.ChainFamilyTON, connections, limiter, timeout)
	registerCommon(d, backend, approvals)
	d.handle("switchChain", false, switchChainHandler(d, backend))
	return d
}
