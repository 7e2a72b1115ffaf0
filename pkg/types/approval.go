package types

import (
	"encoding/json"
	"fmt"
)

// ApprovalKind tags the variant carried by an ApprovalPayload.
type ApprovalKind string

const (
	ApprovalConnect         ApprovalKind = "connect"
	ApprovalSignMessage     ApprovalKind = "sign_message"
	ApprovalSignTypedData   ApprovalKind = "sign_typed_data"
	ApprovalSignTransaction ApprovalKind = "sign_transaction"
	ApprovalSwitchChain     ApprovalKind = "switch_chain"
)

// ApprovalPayload is the tagged union shipped to a UI surface when an
// operation needs explicit user approval. Exactly one variant field is
// populated, selected by Kind.
type ApprovalPayload struct {
	Kind      ApprovalKind `json:"kind"`
	RequestID string       `json:"request_id"`
	Family    ChainFamily  `json:"chain_family"`
	Origin    string       `json:"origin"`
	TabID     int          `json:"tab_id"`

	Connect         *ConnectPrompt         `json:"connect,omitempty"`
	SignMessage     *SignMessagePrompt     `json:"sign_message,omitempty"`
	SignTypedData   *SignTypedDataPrompt   `json:"sign_typed_data,omitempty"`
	SignTransaction *SignTransactionPrompt `json:"sign_transaction,omitempty"`
	SwitchChain     *SwitchChainPrompt     `json:"switch_chain,omitempty"`
}

// Validate checks that the populated variant matches the tag.
func (p *ApprovalPayload) Validate() error {
	var ok bool
	switch p.Kind {
	case ApprovalConnect:
		ok = p.Connect != nil
	case ApprovalSignMessage:
		ok = p.SignMessage != nil
	case ApprovalSignTypedData:
		ok = p.SignTypedData != nil
	case ApprovalSignTransaction:
		ok = p.SignTransaction != nil
	case ApprovalSwitchChain:
		ok = p.SwitchChain != nil
	default:
		return fmt.Errorf("unknown approval kind: %q", p.Kind)
	}
	if !ok {
		return fmt.Errorf("approval payload missing %s variant", p.Kind)
	}
	return nil
}

// ConnectPrompt asks the user to connect a wallet to a site.
type ConnectPrompt struct {
	ChainID   int64  `json:"chain_id"`
	PageTitle string `json:"page_title,omitempty"`
	PageIcon  string `json:"page_icon,omitempty"`
}

// SignMessagePrompt shows a decoded plain-text message for signing.
type SignMessagePrompt struct {
	WalletAddress string `json:"wallet_address"`
	ChainID       int64  `json:"chain_id"`
	// Message is the decoded UTF-8 text shown to the user; the raw hex bytes
	// from the page are decoded before they reach any surface.
	Message string `json:"message"`
}

// SignTypedDataPrompt carries sanitized structured data for signing. The
// structure has already been normalized: fields not declared in the type
// definitions are dropped before display.
type SignTypedDataPrompt struct {
	WalletAddress string          `json:"wallet_address"`
	ChainID       int64           `json:"chain_id"`
	TypedData     json.RawMessage `json:"typed_data"`
}

// SignTransactionPrompt carries an opaque transaction for signing.
type SignTransactionPrompt struct {
	WalletAddress string `json:"wallet_address"`
	TxBytes       string `json:"tx_bytes"`
}

// SwitchChainPrompt asks the user to approve a chain switch.
type SwitchChainPrompt struct {
	ChainID int64 `json:"chain_id"`
}

// ApprovalResult is what a UI surface sends back when the user acts on a
// pending approval. Exactly one of Data and ErrorCode is meaningful.
type ApprovalResult struct {
	RequestID string          `json:"request_id"`
	TabID     int             `json:"tab_id"`
	Family    ChainFamily     `json:"chain_family"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}
