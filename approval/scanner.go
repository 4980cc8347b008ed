package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scanner classifies pending approvals against their due dates at read time.
// It never mutates approval, contract or history state and is safe to run
// concurrently with decisions.
type Scanner struct {
	pool *pgxpool.Pool
}

func NewScanner(pool *pgxpool.Pool) *Scanner {
	return &Scanner{pool: pool}
}

const pendingSelect = `
SELECT a.id, a.contract_id, c.number, a.approver_id, a.workflow_step, a.due_date, a.created_at
FROM approvals a
JOIN contracts c ON c.id = a.contract_id
WHERE a.status = 'pending' AND a.due_date IS NOT NULL`

// Overdue returns pending approvals whose due date passed before now.
func (s *Scanner) Overdue(ctx context.Context, now time.Time, filter Filter) ([]PendingApproval, error) {
	query := pendingSelect + ` AND a.due_date < $1`
	args := []any{now}
	if filter.ApproverID != "" {
		query += ` AND a.approver_id = $2`
		args = append(args, filter.ApproverID)
	}
	query += ` ORDER BY a.due_date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: overdue scan: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// DueSoon returns pending approvals due within [now, now+horizon]. The
// horizon is a parameter; DefaultDueSoonHorizon is only the default.
func (s *Scanner) DueSoon(ctx context.Context, now time.Time, horizon time.Duration, filter Filter) ([]PendingApproval, error) {
	if horizon <= 0 {
		horizon = DefaultDueSoonHorizon
	}
	query := pendingSelect + ` AND a.due_date >= $1 AND a.due_date <= $2`
	args := []any{now, now.Add(horizon)}
	if filter.ApproverID != "" {
		query += ` AND a.approver_id = $3`
		args = append(args, filter.ApproverID)
	}
	query += ` ORDER BY a.due_date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: due-soon scan: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// Stats derives approval counts in a single aggregate query; no cached
// mutable state is involved.
func (s *Scanner) Stats(ctx context.Context, now time.Time, horizon time.Duration, filter Filter) (Stats, error) {
	if horizon <= 0 {
		horizon = DefaultDueSoonHorizon
	}

	query := `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'pending'),
       COUNT(*) FILTER (WHERE status = 'approved'),
       COUNT(*) FILTER (WHERE status = 'rejected'),
       COUNT(*) FILTER (WHERE status = 'pending' AND due_date < $1),
       COUNT(*) FILTER (WHERE status = 'pending' AND due_date >= $1 AND due_date <= $2)
FROM approvals`
	args := []any{now, now.Add(horizon)}
	if filter.ApproverID != "" {
		query += ` WHERE approver_id = $3`
		args = append(args, filter.ApproverID)
	}

	var st Stats
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&st.Total, &st.Pending, &st.Approved, &st.Rejected, &st.Overdue, &st.DueSoon); err != nil {
		return Stats{}, fmt.Errorf("approval: stats: %w", err)
	}
	return st, nil
}

func collectPending(rows pgx.Rows) ([]PendingApproval, error) {
	out := make([]PendingApproval, 0, 8)
	for rows.Next() {
		var p PendingApproval
		if err := rows.Scan(&p.ApprovalID, &p.ContractID, &p.ContractNumber, &p.ApproverID, &p.WorkflowStep, &p.DueDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("approval: scan pending: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval: iterate pending: %w", err)
	}
	return out, nil
}
