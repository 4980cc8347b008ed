package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"contractflow/contract"
	"contractflow/notification"
)

const (
	ctrID      = "11111111-1111-4111-8111-111111111111"
	initiator  = "22222222-2222-4222-8222-222222222222"
	approverA  = "33333333-3333-4333-8333-333333333333"
	approverB  = "44444444-4444-4444-8444-444444444444"
	approverC  = "55555555-5555-4555-8555-555555555555"
	fixedNowTS = "2025-03-10T09:00:00Z"
)

func fixedNow() time.Time {
	ts, _ := time.Parse(time.RFC3339, fixedNowTS)
	return ts
}

func newTestService(repo *fakeDecisionRepo) (*Service, *fakePool, *fakeDispatcher, *fakeHistory) {
	pool := &fakePool{}
	dispatcher := &fakeDispatcher{pool: pool}
	history := &fakeHistory{}
	svc := NewService(pool, repo, dispatcher).
		WithHistory(history).
		WithClock(fixedNow)
	return svc, pool, dispatcher, history
}

func pendingRow(id, approverID string, step int) Row {
	return Row{ID: id, ContractID: ctrID, ApproverID: approverID, WorkflowStep: step, Status: StatusPending}
}

func approvedRow(id, approverID string, step int) Row {
	r := pendingRow(id, approverID, step)
	r.Status = StatusApproved
	return r
}

func inApprovalRef() ContractRef {
	return ContractRef{ID: ctrID, Number: "C-2025-001", Status: string(contract.StatusInApproval), CreatedBy: initiator}
}

func TestDecide_RejectRequiresComment(t *testing.T) {
	repo := &fakeDecisionRepo{}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID,
		ApproverID: approverA,
		Step:       1,
		Decision:   DecisionReject,
	})
	if !errors.Is(err, ErrCommentRequired) {
		t.Fatalf("expected ErrCommentRequired, got %v", err)
	}
	if pool.tx != nil {
		t.Fatal("expected no transaction for invalid input")
	}
}

func TestDecide_WorkflowClosed(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: ContractRef{ID: ctrID, Status: string(contract.StatusRejected), CreatedBy: initiator},
	}
	svc, pool, _, history := newTestService(repo)

	_, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverA, Step: 1, Decision: DecisionApprove,
	})
	if !errors.Is(err, ErrWorkflowClosed) {
		t.Fatalf("expected ErrWorkflowClosed, got %v", err)
	}
	if pool.tx == nil || pool.tx.committed {
		t.Fatal("expected transaction to roll back")
	}
	if len(history.events) != 0 {
		t.Fatal("expected no history events")
	}
}

func TestDecide_AlreadyDecided(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref:  inApprovalRef(),
		rows: []Row{approvedRow("a1", approverA, 1)},
	}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverA, Step: 1, Decision: DecisionApprove,
	})
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if pool.tx.committed {
		t.Fatal("expected no commit")
	}
}

func TestDecide_OutOfSequence(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			pendingRow("a1", approverA, 1),
			pendingRow("a2", approverB, 2),
		},
	}
	svc, _, _, _ := newTestService(repo)

	_, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverB, Step: 2, Decision: DecisionApprove,
	})
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected ErrOutOfSequence, got %v", err)
	}
}

func TestDecide_ParallelGatingAllowsAnyOrder(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			pendingRow("a1", approverA, 1),
			pendingRow("a2", approverB, 2),
		},
	}
	svc, pool, _, _ := newTestService(repo)
	svc.WithGating(ParallelGating{})

	res, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverB, Step: 2, Decision: DecisionApprove,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if res.Completed {
		t.Fatal("step 1 still pending, workflow must not complete")
	}
}

func TestDecide_ApproveMidStepKeepsContractInApproval(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			approvedRow("a1", approverA, 1),
			pendingRow("a2", approverB, 2),
			pendingRow("a3", approverC, 2),
		},
	}
	svc, pool, dispatcher, history := newTestService(repo)

	res, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverB, Step: 2, Decision: DecisionApprove,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if res.StepCompleted || res.Completed {
		t.Fatalf("expected incomplete step, got %+v", res)
	}
	if res.ContractStatus != string(contract.StatusInApproval) {
		t.Fatalf("expected contract to stay in approval, got %s", res.ContractStatus)
	}
	if repo.statusSet != "" {
		t.Fatalf("contract status must not change, got %q", repo.statusSet)
	}
	if len(dispatcher.intents) != 0 {
		t.Fatalf("no intents expected mid-step, got %d", len(dispatcher.intents))
	}
	if len(history.events) != 1 || history.events[0].action != contract.ActionApprovalDecided {
		t.Fatalf("expected exactly one APPROVAL_DECIDED event, got %+v", history.events)
	}
}

func TestDecide_StepCompletionNotifiesNextStep(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			pendingRow("a1", approverA, 1),
			pendingRow("a2", approverB, 2),
			pendingRow("a3", approverC, 2),
		},
	}
	svc, _, dispatcher, _ := newTestService(repo)

	res, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverA, Step: 1, Decision: DecisionApprove,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.StepCompleted || res.Completed {
		t.Fatalf("expected step completed but workflow open, got %+v", res)
	}
	if len(dispatcher.intents) != 2 {
		t.Fatalf("expected 2 next-step intents, got %d", len(dispatcher.intents))
	}
	for _, in := range dispatcher.intents {
		if in.Type != notification.TypeApprovalRequested {
			t.Fatalf("expected approval_requested intents, got %s", in.Type)
		}
	}
	if !dispatcher.afterCommit {
		t.Fatal("intents must be dispatched after commit")
	}
}

func TestDecide_FinalApproveCompletesWorkflow(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			approvedRow("a1", approverA, 1),
			approvedRow("a2", approverB, 2),
			pendingRow("a3", approverC, 2),
		},
	}
	svc, _, dispatcher, history := newTestService(repo)

	res, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverC, Step: 2, Decision: DecisionApprove,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Completed {
		t.Fatal("expected workflow completion")
	}
	if res.ContractStatus != string(contract.StatusApproved) {
		t.Fatalf("expected approved, got %s", res.ContractStatus)
	}
	if repo.statusSet != string(contract.StatusApproved) {
		t.Fatalf("expected contract status write, got %q", repo.statusSet)
	}
	if len(dispatcher.intents) != 1 || dispatcher.intents[0].UserID != initiator {
		t.Fatalf("expected one intent to the initiator, got %+v", dispatcher.intents)
	}
	if dispatcher.intents[0].Type != notification.TypeContractApproved {
		t.Fatalf("expected contract_approved intent, got %s", dispatcher.intents[0].Type)
	}
	if len(history.events) != 1 {
		t.Fatalf("expected one history event, got %d", len(history.events))
	}
}

func TestDecide_RejectTerminalizesAndFansOut(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: inApprovalRef(),
		rows: []Row{
			approvedRow("a1", approverA, 1),
			pendingRow("a2", approverB, 2),
			pendingRow("a3", approverC, 2),
		},
	}
	svc, _, dispatcher, _ := newTestService(repo)

	res, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverB, Step: 2,
		Decision: DecisionReject, Comment: "terms unacceptable",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Completed || res.ContractStatus != string(contract.StatusRejected) {
		t.Fatalf("expected rejected completion, got %+v", res)
	}
	if repo.statusSet != string(contract.StatusRejected) {
		t.Fatalf("expected rejected status write, got %q", repo.statusSet)
	}

	// Initiator plus the one still-pending approver, decider excluded.
	if len(dispatcher.intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(dispatcher.intents))
	}
	recipients := map[string]bool{}
	for _, in := range dispatcher.intents {
		if in.Type != notification.TypeContractRejected {
			t.Fatalf("expected contract_rejected intents, got %s", in.Type)
		}
		recipients[in.UserID] = true
	}
	if !recipients[initiator] || !recipients[approverC] || recipients[approverB] {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
}

func TestDecide_RowCASRaceSurfacesAlreadyDecided(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref:       inApprovalRef(),
		rows:      []Row{pendingRow("a1", approverA, 1)},
		decideErr: ErrAlreadyDecided,
	}
	svc, pool, _, history := newTestService(repo)

	_, err := svc.Decide(context.Background(), DecideParams{
		ContractID: ctrID, ApproverID: approverA, Step: 1, Decision: DecisionApprove,
	})
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if pool.tx.committed {
		t.Fatal("expected rollback on CAS failure")
	}
	if len(history.events) != 0 {
		t.Fatal("expected no history on failed decision")
	}
}

func TestStartApproval_RejectsGappedSteps(t *testing.T) {
	repo := &fakeDecisionRepo{}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.StartApproval(context.Background(), StartParams{
		ContractID: ctrID,
		ActorID:    initiator,
		Steps: []StepAssignment{
			{Step: 1, ApproverIDs: []string{approverA}},
			{Step: 3, ApproverIDs: []string{approverB}},
		},
	})
	if !errors.Is(err, ErrStepsNotContiguous) {
		t.Fatalf("expected ErrStepsNotContiguous, got %v", err)
	}
	if pool.tx != nil {
		t.Fatal("expected no transaction for invalid steps")
	}
}

func TestStartApproval_RejectsDuplicateApproverInStep(t *testing.T) {
	repo := &fakeDecisionRepo{}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.StartApproval(context.Background(), StartParams{
		ContractID: ctrID,
		ActorID:    initiator,
		Steps: []StepAssignment{
			{Step: 1, ApproverIDs: []string{approverA, approverB, approverA}},
		},
	})
	if !errors.Is(err, ErrDuplicateApprover) {
		t.Fatalf("expected ErrDuplicateApprover, got %v", err)
	}
	if pool.tx != nil {
		t.Fatal("expected no transaction for a duplicated approver")
	}
}

func TestStartApproval_Success(t *testing.T) {
	repo := &fakeDecisionRepo{
		ref: ContractRef{ID: ctrID, Number: "C-2025-001", Status: string(contract.StatusDraft), CreatedBy: initiator},
	}
	svc, pool, dispatcher, history := newTestService(repo)
	svc.WithSLA(SLAPolicy{Default: 48 * time.Hour, PerStep: map[int]time.Duration{2: 96 * time.Hour}})

	wf, err := svc.StartApproval(context.Background(), StartParams{
		ContractID: ctrID,
		ActorID:    initiator,
		Steps: []StepAssignment{
			{Step: 2, ApproverIDs: []string{approverB, approverC}},
			{Step: 1, ApproverIDs: []string{approverA}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if len(wf.Rows) != 3 {
		t.Fatalf("expected 3 approval rows, got %d", len(wf.Rows))
	}

	wantDue := map[int]time.Time{
		1: fixedNow().Add(48 * time.Hour),
		2: fixedNow().Add(96 * time.Hour),
	}
	for _, r := range repo.inserted {
		if r.DueDate == nil || !r.DueDate.Equal(wantDue[r.WorkflowStep]) {
			t.Fatalf("step %d: unexpected due date %v", r.WorkflowStep, r.DueDate)
		}
	}

	if repo.statusSet != string(contract.StatusInApproval) {
		t.Fatalf("expected in_approval status write, got %q", repo.statusSet)
	}
	if len(history.events) != 1 || history.events[0].action != contract.ActionContractSubmitted {
		t.Fatalf("expected CONTRACT_SUBMITTED event, got %+v", history.events)
	}
	if len(dispatcher.intents) != 1 || dispatcher.intents[0].UserID != approverA {
		t.Fatalf("expected one intent for the step-1 approver, got %+v", dispatcher.intents)
	}
}

func TestStartApproval_RequiresDraft(t *testing.T) {
	repo := &fakeDecisionRepo{ref: inApprovalRef()}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.StartApproval(context.Background(), StartParams{
		ContractID: ctrID,
		ActorID:    initiator,
		Steps:      []StepAssignment{{Step: 1, ApproverIDs: []string{approverA}}},
	})
	if !errors.Is(err, ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}
	if pool.tx.committed {
		t.Fatal("expected rollback")
	}
}

// --- fakes ---

type fakeDecisionRepo struct {
	ref       ContractRef
	rows      []Row
	decideErr error
	insertErr error

	inserted  []Row
	statusSet string
}

func (f *fakeDecisionRepo) LockContract(ctx context.Context, tx pgx.Tx, contractID string) (ContractRef, error) {
	if f.ref.ID == "" {
		return ContractRef{}, ErrContractNotFound
	}
	return f.ref, nil
}

func (f *fakeDecisionRepo) ListRowsForUpdate(ctx context.Context, tx pgx.Tx, contractID string) ([]Row, error) {
	out := make([]Row, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeDecisionRepo) InsertRows(ctx context.Context, tx pgx.Tx, rows []Row) ([]Row, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, rows...)
	return rows, nil
}

func (f *fakeDecisionRepo) DecideRow(ctx context.Context, tx pgx.Tx, rowID string, status Status, comment *string) (Row, error) {
	if f.decideErr != nil {
		return Row{}, f.decideErr
	}
	for _, r := range f.rows {
		if r.ID == rowID {
			r.Status = status
			r.Comment = comment
			now := fixedNow()
			r.DecidedAt = &now
			return r, nil
		}
	}
	return Row{}, ErrApprovalNotFound
}

func (f *fakeDecisionRepo) SetContractStatus(ctx context.Context, tx pgx.Tx, contractID, status string) error {
	f.statusSet = status
	return nil
}

func (f *fakeDecisionRepo) List(ctx context.Context, filters ListFilters) ([]Row, error) {
	return f.rows, nil
}

type historyEntry struct {
	action  contract.HistoryAction
	actorID string
}

type fakeHistory struct {
	events []historyEntry
}

func (f *fakeHistory) Append(ctx context.Context, tx pgx.Tx, contractID string, action contract.HistoryAction, actorID string, details map[string]any) error {
	f.events = append(f.events, historyEntry{action: action, actorID: actorID})
	return nil
}

type fakeDispatcher struct {
	pool        *fakePool
	intents     []notification.Intent
	afterCommit bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, intents []notification.Intent) {
	f.intents = append(f.intents, intents...)
	f.afterCommit = f.pool.tx != nil && f.pool.tx.committed
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
