package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query selects VIOLATING rows, so an
// empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_steps_contiguous",
			SQL: `SELECT contract_id, MIN(workflow_step), MAX(workflow_step), COUNT(DISTINCT workflow_step)
                  FROM approvals
                  GROUP BY contract_id
                  HAVING MIN(workflow_step) <> 1 OR MAX(workflow_step) <> COUNT(DISTINCT workflow_step)`,
		},
		{
			Name: "O2_decision_consistency",
			SQL: `SELECT id, status, decided_at FROM approvals
                  WHERE (status = 'pending' AND decided_at IS NOT NULL)
                     OR (status <> 'pending' AND decided_at IS NULL)`,
		},
		{
			Name: "O3_history_seq_gapless",
			SQL: `WITH seqs AS (
                      SELECT contract_id, seq,
                             LAG(seq) OVER (PARTITION BY contract_id ORDER BY seq) AS prev
                      FROM contract_history)
                  SELECT * FROM seqs WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O4_in_approval_has_pending",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'in_approval'
                    AND NOT EXISTS (SELECT 1 FROM approvals a WHERE a.contract_id = c.id AND a.status = 'pending')`,
		},
		{
			Name: "O5_approved_means_all_approved",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'approved'
                    AND EXISTS (SELECT 1 FROM approvals a WHERE a.contract_id = c.id AND a.status <> 'approved')`,
		},
		{
			Name: "O6_rejected_has_rejection",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'rejected'
                    AND NOT EXISTS (SELECT 1 FROM approvals a WHERE a.contract_id = c.id AND a.status = 'rejected')`,
		},
		{
			Name: "O7_draft_has_no_approvals",
			SQL: `SELECT DISTINCT a.contract_id FROM approvals a
                  JOIN contracts c ON c.id = a.contract_id
                  WHERE c.status = 'draft'`,
		},
		{
			Name: "O8_submitted_recorded",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status IN ('in_approval', 'approved', 'rejected')
                    AND NOT EXISTS (SELECT 1 FROM contract_history h
                                    WHERE h.contract_id = c.id AND h.action = 'CONTRACT_SUBMITTED')`,
		},
		{
			Name: "O9_decisions_match_history",
			SQL: `SELECT a.contract_id,
                         COUNT(*) FILTER (WHERE a.status <> 'pending') AS decided,
                         (SELECT COUNT(*) FROM contract_history h
                          WHERE h.contract_id = a.contract_id AND h.action = 'APPROVAL_DECIDED') AS recorded
                  FROM approvals a
                  GROUP BY a.contract_id
                  HAVING COUNT(*) FILTER (WHERE a.status <> 'pending') <>
                         (SELECT COUNT(*) FROM contract_history h
                          WHERE h.contract_id = a.contract_id AND h.action = 'APPROVAL_DECIDED')`,
		},
		{
			Name: "O10_terminal_notifications_consistent",
			SQL: `SELECT n.id, n.type, c.status FROM notifications n
                  JOIN contracts c ON c.id = n.contract_id
                  WHERE (n.type = 'contract_approved' AND c.status <> 'approved')
                     OR (n.type = 'contract_rejected' AND c.status <> 'rejected')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
