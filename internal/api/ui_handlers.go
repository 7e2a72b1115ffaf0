package api

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// registerUITopics wires the privileged topics only UI contexts may call:
// lockbox control, wallet management, approval resolution, side-panel payload
// consumption, and the keep-alive ping.
func (s *Server) registerUITopics() {
	s.bus.Handle("ui/ping", uiOnly("ui/ping", s.handlePing))

	s.bus.Handle("lockbox/unlock", uiOnly("lockbox/unlock", s.handleUnlock))
	s.bus.Handle("lockbox/lock", uiOnly("lockbox/lock", s.handleLock))
	s.bus.Handle("lockbox/status", uiOnly("lockbox/status", s.handleLockStatus))
	s.bus.Handle("lockbox/set_auto_lock", uiOnly("lockbox/set_auto_lock", s.handleSetAutoLock))

	s.bus.Handle("approval/resolve", uiOnly("approval/resolve", s.handleResolveApproval))
	s.bus.Handle("approval/payload", uiOnly("approval/payload", s.handleApprovalPayload))
	s.bus.Handle("sidepanel/payload", uiOnly("sidepanel/payload", s.handleSidePanelPayload))

	s.bus.Handle("wallet/import", uiOnly("wallet/import", s.handleImportWallet))
	s.bus.Handle("wallet/list", uiOnly("wallet/list", s.handleListWallets))
	s.bus.Handle("wallet/select", uiOnly("wallet/select", s.handleSelectWallet))
	s.bus.Handle("wallet/selected", uiOnly("wallet/selected", s.handleSelectedWallet))

	s.bus.Handle("sites/list", uiOnly("sites/list", s.handleSites))
	s.bus.Handle("sites/disconnect", uiOnly("sites/disconnect", s.handleDisconnectSite))

	s.bus.Handle("settings/get", uiOnly("settings/get", s.handleGetSettings))
	s.bus.Handle("settings/set", uiOnly("settings/set", s.handleSetSettings))
}

// uiOnly hides a privileged topic from page contexts; a page probing it gets
// the same unknown-method error as for any topic that does not exist.
func uiOnly(topic string, h transport.BusHandler) transport.BusHandler {
	return func(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
		if peer.Kind == transport.ContextPage {
			return nil, errors.UnknownMethod(topic)
		}
		return h(ctx, peer, payload)
	}
}

func serviceError(ctx context.Context, err error) *errors.RPCError {
	if rpcErr, ok := errors.IsRPCError(err); ok {
		return rpcErr
	}
	logger.Error(ctx, "ui request failed", "error", err)
	return errors.ErrInternalError
}

func (s *Server) handlePing(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleUnlock(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Secret    string `json:"secret"`
		Ephemeral bool   `json:"ephemeral"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Secret == "" {
		return nil, errors.BadRequest("secret is required")
	}

	if err := s.lockbox.Unlock(ctx, []byte(req.Secret), req.Ephemeral); err != nil {
		return nil, serviceError(ctx, err)
	}
	return s.lockStatus(ctx), nil
}

func (s *Server) handleLock(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	s.lockbox.Lock(ctx)
	return s.lockStatus(ctx), nil
}

func (s *Server) handleLockStatus(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	return s.lockStatus(ctx), nil
}

func (s *Server) lockStatus(ctx context.Context) map[string]any {
	return map[string]any{
		"locked":            s.lockbox.IsLocked(),
		"auto_lock_minutes": s.lockbox.MinutesUntilAutoLock(ctx),
	}
}

func (s *Server) handleSetAutoLock(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Minutes < 0 {
		return nil, errors.BadRequest("minutes must be zero or positive")
	}

	if err := s.lockbox.SetMinutesUntilAutoLock(ctx, req.Minutes); err != nil {
		return nil, serviceError(ctx, err)
	}
	if !s.lockbox.IsLocked() {
		if err := s.lockbox.RestartTimer(ctx); err != nil {
			return nil, serviceError(ctx, err)
		}
	}
	return s.lockStatus(ctx), nil
}

func (s *Server) handleResolveApproval(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var result types.ApprovalResult
	if err := json.Unmarshal(payload, &result); err != nil || result.RequestID == "" {
		return nil, errors.BadRequest("request_id is required")
	}

	s.orchestrator.Resolve(ctx, &result)
	return nil, nil
}

func (s *Server) handleApprovalPayload(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.RequestID == "" {
		return nil, errors.BadRequest("request_id is required")
	}
	return s.orchestrator.Payload(req.RequestID), nil
}

func (s *Server) handleSidePanelPayload(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	record, err := s.uiManager.TakeOneShot(peer.WindowID)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	return record, nil
}

func (s *Server) handleImportWallet(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Family          types.ChainFamily `json:"chain_family"`
		Kind            types.WalletKind  `json:"kind"`
		Name            string            `json:"name"`
		PrivateKey      string            `json:"private_key"`
		SupportedChains []int64           `json:"supported_chains"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || !req.Family.Valid() {
		return nil, errors.BadRequest("chain_family is required")
	}

	privateKey, err := hexutil.Decode(req.PrivateKey)
	if err != nil {
		return nil, errors.BadRequest("private_key is not valid hex")
	}

	wallet, err := s.walletService.ImportWallet(ctx, req.Family, req.Kind, req.Name, privateKey, req.SupportedChains)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	return wallet, nil
}

func (s *Server) handleListWallets(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	family, rpcErr := decodeFamily(payload)
	if rpcErr != nil {
		return nil, rpcErr
	}

	wallets, err := s.walletService.Wallets(ctx, family)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	return wallets, nil
}

func (s *Server) handleSelectWallet(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Family  types.ChainFamily `json:"chain_family"`
		Address string            `json:"address"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || !req.Family.Valid() || req.Address == "" {
		return nil, errors.BadRequest("chain_family and address are required")
	}

	if err := s.walletService.SelectWallet(ctx, req.Family, req.Address); err != nil {
		return nil, serviceError(ctx, err)
	}
	return nil, nil
}

func (s *Server) handleSelectedWallet(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	family, rpcErr := decodeFamily(payload)
	if rpcErr != nil {
		return nil, rpcErr
	}

	wallet, err := s.walletService.SelectedWallet(ctx, family)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	return wallet, nil
}

func (s *Server) handleSites(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	sites, err := s.walletService.Sites(ctx)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	return sites, nil
}

func (s *Server) handleDisconnectSite(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Origin string             `json:"origin"`
		Family *types.ChainFamily `json:"chain_family,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Origin == "" {
		return nil, errors.BadRequest("origin is required")
	}
	if req.Family != nil && !req.Family.Valid() {
		return nil, errors.BadRequest("invalid chain_family")
	}

	if err := s.walletService.Disconnect(ctx, req.Origin, req.Family); err != nil {
		return nil, serviceError(ctx, err)
	}
	return nil, nil
}

// settingsKey maps the wire name of a settings bucket to its preference key.
// Buckets are opaque JSON to the gateway; only the UI interprets them.
func settingsKey(bucket string) (string, bool) {
	switch bucket {
	case "trade":
		return storage.PrefTradeSettings, true
	case "user":
		return storage.PrefUserSettings, true
	}
	return "", false
}

func (s *Server) handleGetSettings(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Bucket string `json:"bucket"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.BadRequest("bucket is required")
	}
	key, ok := settingsKey(req.Bucket)
	if !ok {
		return nil, errors.BadRequest("unknown settings bucket")
	}

	var value json.RawMessage
	found, err := s.prefs.Get(ctx, key, &value)
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	if !found {
		return nil, nil
	}
	return value, nil
}

func (s *Server) handleSetSettings(ctx context.Context, peer transport.Peer, payload json.RawMessage) (any, *errors.RPCError) {
	var req struct {
		Bucket string          `json:"bucket"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || len(req.Value) == 0 {
		return nil, errors.BadRequest("bucket and value are required")
	}
	key, ok := settingsKey(req.Bucket)
	if !ok {
		return nil, errors.BadRequest("unknown settings bucket")
	}

	if err := s.prefs.Set(ctx, key, req.Value); err != nil {
		return nil, serviceError(ctx, err)
	}
	return nil, nil
}

func decodeFamily(payload json.RawMessage) (types.ChainFamily, *errors.RPCError) {
	var req struct {
		Family types.ChainFamily `json:"chain_family"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || !req.Family.Valid() {
		return "", errors.BadRequest("chain_family is required")
	}
	return req.Family, nil
}
