package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContractRef is the slice of the contracts table the engine needs while
// holding the row lock.
type ContractRef struct {
	ID        string
	Number    string
	Status    string
	CreatedBy string
}

// Repository defines the data access the decision service requires. Write
// methods run inside the service's transaction.
type Repository interface {
	LockContract(ctx context.Context, tx pgx.Tx, contractID string) (ContractRef, error)
	ListRowsForUpdate(ctx context.Context, tx pgx.Tx, contractID string) ([]Row, error)
	InsertRows(ctx context.Context, tx pgx.Tx, rows []Row) ([]Row, error)
	DecideRow(ctx context.Context, tx pgx.Tx, rowID string, status Status, comment *string) (Row, error)
	SetContractStatus(ctx context.Context, tx pgx.Tx, contractID, status string) error
	List(ctx context.Context, filters ListFilters) ([]Row, error)
}

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LockContract takes the per-contract serialization lock. Every mutating
// workflow transaction goes through here first.
func (r *PGRepository) LockContract(ctx context.Context, tx pgx.Tx, contractID string) (ContractRef, error) {
	const q = `
SELECT id, number, status::text, created_by
FROM contracts
WHERE id = $1
FOR UPDATE
`
	var ref ContractRef
	if err := tx.QueryRow(ctx, q, contractID).Scan(&ref.ID, &ref.Number, &ref.Status, &ref.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ContractRef{}, ErrContractNotFound
		}
		return ContractRef{}, fmt.Errorf("approval: lock contract: %w", err)
	}
	return ref, nil
}

// ListRowsForUpdate loads every approval row of the contract in step order.
// The contract row lock already serializes writers; the row locks are a
// second guard against direct approval updates.
func (r *PGRepository) ListRowsForUpdate(ctx context.Context, tx pgx.Tx, contractID string) ([]Row, error) {
	const q = `
SELECT id, contract_id, approver_id, workflow_step, status::text, comment, due_date, decided_at, created_at, updated_at
FROM approvals
WHERE contract_id = $1
ORDER BY workflow_step, created_at
FOR UPDATE
`
	rows, err := tx.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("approval: list rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// InsertRows creates the approval set for a contract entering approval.
func (r *PGRepository) InsertRows(ctx context.Context, tx pgx.Tx, rows []Row) ([]Row, error) {
	const q = `
INSERT INTO approvals (id, contract_id, approver_id, workflow_step, status, due_date)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, 'pending', $5)
RETURNING id, contract_id, approver_id, workflow_step, status::text, comment, due_date, decided_at, created_at, updated_at
`
	out := make([]Row, 0, len(rows))
	for _, in := range rows {
		row, err := scanRow(tx.QueryRow(ctx, q, in.ID, in.ContractID, in.ApproverID, in.WorkflowStep, in.DueDate))
		if err != nil {
			return nil, fmt.Errorf("approval: insert row step %d: %w", in.WorkflowStep, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// DecideRow flips one pending row to its terminal status. The status guard in
// the WHERE clause makes the transition at-most-once even if a caller reaches
// here without the contract lock.
func (r *PGRepository) DecideRow(ctx context.Context, tx pgx.Tx, rowID string, status Status, comment *string) (Row, error) {
	const q = `
UPDATE approvals
SET status = $1,
    comment = $2,
    decided_at = now(),
    updated_at = now()
WHERE id = $3 AND status = 'pending'
RETURNING id, contract_id, approver_id, workflow_step, status::text, comment, due_date, decided_at, created_at, updated_at
`
	row, err := scanRow(tx.QueryRow(ctx, q, status, comment, rowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, ErrAlreadyDecided
		}
		return Row{}, fmt.Errorf("approval: decide row: %w", err)
	}
	return row, nil
}

// SetContractStatus advances the contract inside the same transaction as the
// decision it results from.
func (r *PGRepository) SetContractStatus(ctx context.Context, tx pgx.Tx, contractID, status string) error {
	tag, err := tx.Exec(ctx, `
UPDATE contracts
SET status = $1::contract_status,
    updated_at = now()
WHERE id = $2
`, status, contractID)
	if err != nil {
		return fmt.Errorf("approval: set contract status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

// List is the pool-backed read used by the listApprovals interface.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Row, error) {
	base := `
SELECT id, contract_id, approver_id, workflow_step, status::text, comment, due_date, decided_at, created_at, updated_at
FROM approvals`
	where := []string{"1=1"}
	args := []any{}

	if filters.ApproverID != "" {
		where = append(where, fmt.Sprintf("approver_id = $%d", len(args)+1))
		args = append(args, filters.ApproverID)
	}
	if filters.ContractID != "" {
		where = append(where, fmt.Sprintf("contract_id = $%d", len(args)+1))
		args = append(args, filters.ContractID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.DueBefore != nil {
		where = append(where, fmt.Sprintf("due_date < $%d", len(args)+1))
		args = append(args, *filters.DueBefore)
	}
	if filters.DueAfter != nil {
		where = append(where, fmt.Sprintf("due_date >= $%d", len(args)+1))
		args = append(args, *filters.DueAfter)
	}

	query := base + "\nWHERE " + andJoin(where) + "\nORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func andJoin(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

func scanRow(row pgx.Row) (Row, error) {
	var (
		rec       Row
		comment   *string
		due       *time.Time
		decidedAt *time.Time
	)
	err := row.Scan(
		&rec.ID,
		&rec.ContractID,
		&rec.ApproverID,
		&rec.WorkflowStep,
		&rec.Status,
		&comment,
		&due,
		&decidedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Row{}, err
	}
	rec.Comment = comment
	rec.DueDate = due
	rec.DecidedAt = decidedAt
	return rec, nil
}

func collectRows(rows pgx.Rows) ([]Row, error) {
	out := make([]Row, 0, 8)
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("approval: scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval: iterate rows: %w", err)
	}
	return out, nil
}
