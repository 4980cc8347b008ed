package contract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppendHistory inserts one audit event inside the caller's transaction.
// The caller must hold the contract row lock; seq is derived from the current
// maximum which is race-free under that lock. History rows are never updated
// or deleted.
func AppendHistory(ctx context.Context, tx pgx.Tx, contractID string, action HistoryAction, actorID string, details map[string]any) error {
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("contract: marshal history details: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const q = `
INSERT INTO contract_history (contract_id, seq, action, actor_id, details)
VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM contract_history WHERE contract_id = $1), $2, $3::uuid, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, contractID, action, actor, body); err != nil {
		return fmt.Errorf("contract: insert history event: %w", err)
	}
	return nil
}

// ListHistory returns the audit trail for a contract in seq order.
func ListHistory(ctx context.Context, pool *pgxpool.Pool, contractID string) ([]HistoryEvent, error) {
	const q = `
		SELECT id, contract_id, seq, action, actor_id, details, created_at
		FROM contract_history
		WHERE contract_id = $1
		ORDER BY seq
	`
	rows, err := pool.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: list history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]HistoryEvent, error) {
	out := make([]HistoryEvent, 0, 8)
	for rows.Next() {
		var ev HistoryEvent
		if err := rows.Scan(&ev.ID, &ev.ContractID, &ev.Seq, &ev.Action, &ev.ActorID, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("contract: scan history event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate history: %w", err)
	}
	return out, nil
}
