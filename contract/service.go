package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no contract row exists for the identifier.
	ErrNotFound = errors.New("contract: not found")
	// ErrDuplicateNumber signals the contract number is already taken.
	ErrDuplicateNumber = errors.New("contract: number already exists")
	// ErrClosed signals the contract is in a terminal state and refuses edits.
	ErrClosed = errors.New("contract: terminal state")
)

const scanColumns = `id, number, counterparty, amount, start_date, end_date,
       shipping_terms, shipping_address, status, created_by, created_at, updated_at`

// Service exposes contract CRUD and snapshot reads. Workflow transitions are
// owned by the approval package; this service never touches approval rows
// except on the read side.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Create inserts a draft contract and its CONTRACT_CREATED audit event in one
// transaction.
func (s *Service) Create(ctx context.Context, creatorID string, params CreateParams) (Record, error) {
	if creatorID == "" {
		return Record{}, fmt.Errorf("contract: creator id required")
	}
	if params.Number == "" {
		return Record{}, fmt.Errorf("contract: number required")
	}
	if params.Counterparty == "" {
		return Record{}, fmt.Errorf("contract: counterparty required")
	}
	if params.Amount < 0 {
		return Record{}, fmt.Errorf("contract: invalid amount")
	}
	if params.StartDate != nil && params.EndDate != nil && params.EndDate.Before(*params.StartDate) {
		return Record{}, fmt.Errorf("contract: end date before start date")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
        INSERT INTO contracts (number, counterparty, amount, start_date, end_date, shipping_terms, shipping_address, status, created_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft', $8)
        RETURNING ` + scanColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.Number,
		params.Counterparty,
		params.Amount,
		params.StartDate,
		params.EndDate,
		params.ShippingTerms,
		params.ShippingAddress,
		creatorID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicateNumber
		}
		return Record{}, fmt.Errorf("contract: insert: %w", err)
	}

	details := map[string]any{
		"number":       rec.Number,
		"counterparty": rec.Counterparty,
		"amount":       rec.Amount,
	}
	if err := AppendHistory(ctx, tx, rec.ID, ActionContractCreated, creatorID, details); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit: %w", err)
	}

	return rec, nil
}

// UpdateShipping changes the shipping fields and records a SHIPPING_UPDATED
// event. Refused once the contract reached a terminal state.
func (s *Service) UpdateShipping(ctx context.Context, params ShippingParams) (Record, error) {
	if params.ContractID == "" {
		return Record{}, fmt.Errorf("contract: contract id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM contracts WHERE id = $1 FOR UPDATE`, params.ContractID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: fetch for shipping update: %w", err)
	}
	if current.Terminal() {
		return Record{}, ErrClosed
	}

	// Nil params leave the column untouched, so callers can patch one
	// shipping field without erasing the other.
	const updateSQL = `
        UPDATE contracts
        SET shipping_terms = COALESCE($1, shipping_terms),
            shipping_address = COALESCE($2, shipping_address),
            updated_at = now()
        WHERE id = $3
        RETURNING ` + scanColumns

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL, params.ShippingTerms, params.ShippingAddress, params.ContractID))
	if err != nil {
		return Record{}, fmt.Errorf("contract: update shipping: %w", err)
	}

	details := map[string]any{}
	if params.ShippingTerms != nil {
		details["shipping_terms"] = *params.ShippingTerms
	}
	if params.ShippingAddress != nil {
		details["shipping_address"] = *params.ShippingAddress
	}
	if err := AppendHistory(ctx, tx, rec.ID, ActionShippingUpdated, params.ActorID, details); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit shipping update: %w", err)
	}

	return rec, nil
}

// Get loads the contract with its approvals and audit trail in a single
// repeatable-read transaction so the snapshot is never torn across tables.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Detail{}, fmt.Errorf("contract: begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectSQL = `SELECT ` + scanColumns + ` FROM contracts WHERE id = $1`
	rec, err := scanRecord(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, fmt.Errorf("contract: get: %w", err)
	}

	const approvalsSQL = `
		SELECT a.id, a.approver_id, u.full_name, a.workflow_step, a.status::text, a.comment, a.due_date, a.decided_at, a.created_at
		FROM approvals a
		JOIN users u ON u.id = a.approver_id
		WHERE a.contract_id = $1
		ORDER BY a.workflow_step, a.created_at
	`
	rows, err := tx.Query(ctx, approvalsSQL, id)
	if err != nil {
		return Detail{}, fmt.Errorf("contract: load approvals: %w", err)
	}
	approvals := make([]ApprovalSummary, 0, 8)
	for rows.Next() {
		var a ApprovalSummary
		if err := rows.Scan(&a.ID, &a.ApproverID, &a.ApproverName, &a.WorkflowStep, &a.Status, &a.Comment, &a.DueDate, &a.DecidedAt, &a.CreatedAt); err != nil {
			rows.Close()
			return Detail{}, fmt.Errorf("contract: scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Detail{}, fmt.Errorf("contract: iterate approvals: %w", err)
	}

	const historySQL = `
		SELECT id, contract_id, seq, action, actor_id, details, created_at
		FROM contract_history
		WHERE contract_id = $1
		ORDER BY seq
	`
	hrows, err := tx.Query(ctx, historySQL, id)
	if err != nil {
		return Detail{}, fmt.Errorf("contract: load history: %w", err)
	}
	history, err := collectHistory(hrows)
	hrows.Close()
	if err != nil {
		return Detail{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Detail{}, fmt.Errorf("contract: commit read tx: %w", err)
	}

	return Detail{Contract: rec, Approvals: approvals, History: history}, nil
}

// History returns just the audit trail, for callers that do not need the
// full snapshot Get assembles.
func (s *Service) History(ctx context.Context, id string) ([]HistoryEvent, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("contract: check contract: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return ListHistory(ctx, s.pool, id)
}

// List returns contracts matching the filters plus the unpaged total.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + scanColumns + ` FROM contracts`
	where := []string{"1=1"}
	args := []any{}

	if filters.CreatedBy != "" {
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filters.CreatedBy)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}

	countSQL := `SELECT COUNT(*) FROM contracts WHERE ` + joinAnd(where)
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("contract: count: %w", err)
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		base, joinAnd(where), len(args)+1, len(args)+2)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, filters.PageSize)
	for rows.Next() {
		rec, err := scanRecordFromRows(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("contract: iterate: %w", err)
	}

	return records, total, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.Number,
		&rec.Counterparty,
		&rec.Amount,
		&rec.StartDate,
		&rec.EndDate,
		&rec.ShippingTerms,
		&rec.ShippingAddress,
		&rec.Status,
		&rec.CreatedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func scanRecordFromRows(rows pgx.Rows) (Record, error) {
	rec, err := scanRecord(rows)
	if err != nil {
		return Record{}, fmt.Errorf("contract: scan: %w", err)
	}
	return rec, nil
}
