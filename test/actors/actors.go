package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/approval"
	"contractflow/contract"
)

// Submitter creates draft contracts and immediately submits them into a one-
// or two-step approval workflow with randomly chosen approvers.
func Submitter(ctx context.Context, contracts *contract.Service, approvals *approval.Service, initiatorID string, approverIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rec, err := contracts.Create(ctx, initiatorID, contract.CreateParams{
			Number:       fmt.Sprintf("C-STRESS-%d-%d", time.Now().UnixNano(), rand.Int31()),
			Counterparty: "Stress Counterparty",
			Amount:       float64(rand.Intn(100000)) / 100,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// contention or chaos; skip this round
			time.Sleep(50 * time.Millisecond)
			continue
		}

		steps := []approval.StepAssignment{
			{Step: 1, ApproverIDs: []string{approverIDs[rand.Intn(len(approverIDs))]}},
		}
		if len(approverIDs) > 1 && rand.Intn(2) == 0 {
			second := approverIDs[rand.Intn(len(approverIDs))]
			if second == steps[0].ApproverIDs[0] {
				second = approverIDs[(rand.Intn(len(approverIDs))+1)%len(approverIDs)]
			}
			if second != steps[0].ApproverIDs[0] {
				steps = append(steps, approval.StepAssignment{Step: 2, ApproverIDs: []string{second}})
			}
		}

		_, _ = approvals.StartApproval(ctx, approval.StartParams{
			ContractID: rec.ID,
			ActorID:    initiatorID,
			Steps:      steps,
		})

		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// Approver repeatedly picks one of its pending approvals and decides it.
// Gating refusals and lost races are expected under contention; anything the
// engine promises never to do is caught by the oracles, not here.
func Approver(ctx context.Context, pool *pgxpool.Pool, approvals *approval.Service, approverID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var contractID string
		var step int
		err := pool.QueryRow(ctx, `
			SELECT contract_id, workflow_step FROM approvals
			WHERE approver_id = $1 AND status = 'pending'
			ORDER BY random() LIMIT 1
		`, approverID).Scan(&contractID, &step)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
			continue
		}

		params := approval.DecideParams{
			ContractID: contractID,
			ApproverID: approverID,
			Step:       step,
			Decision:   approval.DecisionApprove,
		}
		if rand.Intn(5) == 0 {
			params.Decision = approval.DecisionReject
			params.Comment = "stress reject"
		}
		_, _ = approvals.Decide(ctx, params)

		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	}
}

// Contender fires two concurrent opposing decisions at the same pending row.
// Both may lose under chaos, but two wins on one row is a hard failure.
func Contender(ctx context.Context, pool *pgxpool.Pool, approvals *approval.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var contractID, approverID string
		var step int
		err := pool.QueryRow(ctx, `
			SELECT contract_id, approver_id, workflow_step FROM approvals
			WHERE status = 'pending' AND workflow_step = 1
			ORDER BY random() LIMIT 1
		`).Scan(&contractID, &approverID, &step)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, d := range []approval.DecideParams{
			{ContractID: contractID, ApproverID: approverID, Step: step, Decision: approval.DecisionApprove},
			{ContractID: contractID, ApproverID: approverID, Step: step, Decision: approval.DecisionReject, Comment: "contender reject"},
		} {
			wg.Add(1)
			go func(p approval.DecideParams) {
				defer wg.Done()
				if _, err := approvals.Decide(ctx, p); err == nil {
					wins.Add(1)
				}
			}(d)
		}
		wg.Wait()

		if wins.Load() > 1 {
			return fmt.Errorf("contender: %d decisions won on approval (contract=%s approver=%s step=%d)", wins.Load(), contractID, approverID, step)
		}

		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// DeadlineReader hammers the scanner windows and stats while decisions are in
// flight; the scanner must never error on a consistent snapshot.
func DeadlineReader(ctx context.Context, scanner *approval.Scanner, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		now := time.Now()
		if _, err := scanner.Overdue(ctx, now, approval.Filter{}); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := scanner.DueSoon(ctx, now, 72*time.Hour, approval.Filter{}); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := scanner.Stats(ctx, now, 0, approval.Filter{}); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Reader loads contract snapshots and marks random notifications read,
// exercising the read paths concurrently with writers.
func Reader(ctx context.Context, pool *pgxpool.Pool, contracts *contract.Service, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var contractID string
		if err := pool.QueryRow(ctx, `SELECT id FROM contracts ORDER BY random() LIMIT 1`).Scan(&contractID); err == nil {
			if _, err := contracts.Get(ctx, contractID); err != nil && !errors.Is(err, contract.ErrNotFound) && ctx.Err() != nil {
				return ctx.Err()
			}
		}

		var notifID string
		if err := pool.QueryRow(ctx, `
			SELECT id FROM notifications WHERE user_id = $1 AND read = false ORDER BY random() LIMIT 1
		`, userID).Scan(&notifID); err == nil {
			_, _ = pool.Exec(ctx, `UPDATE notifications SET read = true, read_at = now() WHERE id = $1 AND read = false`, notifID)
		}

		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}
