package dispatch

import (
	"time"

	"github.com/walletgate/walletgate/pkg/types"
)

// NewSVM builds the SVM dispatcher. SVM wallets sign ed25519 over the raw
// payload; there is no typed-data method and no chain switching.
func NewSVM(backend WalletBackend, approvals Approvals, connections ConnectionSource, limiter *OriginLimiter, timeout time.Duration) *Dispatcher {
	d := newDispatcher(types.ChainFamilySVM, connections, limiter, timeout)
	registerCommon(d, backend, approvals)
	return d
}
