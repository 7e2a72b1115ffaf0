package storage

import (
	"context"
	"fmt"

	"github.com/walletgate/walletgate/pkg/types"
)

// ApprovalRepository persists pending-approval metadata so that approvals
// in flight when the process is torn down can be proactively rejected on the
// next start instead of silently never resolving.
type ApprovalRepository struct {
	store *Store
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(store *Store) *ApprovalRepository {
	return &ApprovalRepository{store: store}
}

// Create records a pending approval.
func (r *ApprovalRepository) Create(ctx context.Context, p *types.PendingApproval) error {
	query := `
		INSERT INTO pending_approvals (request_id, chain_family, tab_id, window_id, surface_kind)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.store.pool.QueryRow(ctx, query,
		p.RequestID,
		p.Family,
		p.TabID,
		p.WindowID,
		p.SurfaceKind,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending approval: %w", err)
	}

	return nil
}

// Delete removes a pending approval by request id. Removing an absent row is
// a no-op; resolution is idempotent.
func (r *ApprovalRepository) Delete(ctx context.Context, requestID string) error {
	query := `DELETE FROM pending_approvals WHERE request_id = $1`

	if _, err := r.store.pool.Exec(ctx, query, requestID); err != nil {
		return fmt.Errorf("failed to delete pending approval: %w", err)
	}

	return nil
}

// List returns every persisted pending approval, oldest first.
func (r *ApprovalRepository) List(ctx context.Context) ([]*types.PendingApproval, error) {
	query := `
		SELECT request_id, chain_family, tab_id, window_id, surface_kind, created_at
		FROM pending_approvals
		ORDER BY created_at
	`

	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var pendings []*types.PendingApproval
	for rows.Next() {
		var p types.PendingApproval
		err := rows.Scan(
			&p.RequestID,
			&p.Family,
			&p.TabID,
			&p.WindowID,
			&p.SurfaceKind,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		pendings = append(pendings, &p)
	}

	return pendings, nil
}
