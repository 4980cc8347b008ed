package approval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"contractflow/contract"
	"contractflow/notification"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// HistoryWriter appends one audit event inside the active transaction.
type HistoryWriter interface {
	Append(ctx context.Context, tx pgx.Tx, contractID string, action contract.HistoryAction, actorID string, details map[string]any) error
}

// IntentDispatcher consumes notification intents strictly after the
// transaction that produced them has committed.
type IntentDispatcher interface {
	Dispatch(ctx context.Context, intents []notification.Intent)
}

// Invalidator drops cached aggregates for the given users after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

type contractHistory struct{}

func (contractHistory) Append(ctx context.Context, tx pgx.Tx, contractID string, action contract.HistoryAction, actorID string, details map[string]any) error {
	return contract.AppendHistory(ctx, tx, contractID, action, actorID, details)
}

// Service is the workflow state machine: the single authority deciding
// whether a requested transition is legal and which side effects follow.
// All writes of one call commit atomically; intents are dispatched only
// after commit.
type Service struct {
	pool        TxBeginner
	repo        Repository
	history     HistoryWriter
	dispatcher  IntentDispatcher
	gating      Gating
	sla         SLAPolicy
	cache       Invalidator
	validate    *validator.Validate
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, dispatcher IntentDispatcher) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		history:     contractHistory{},
		dispatcher:  dispatcher,
		gating:      SerialGating{},
		validate:    validator.New(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithGating swaps the step-ordering policy. The transition and commit logic
// never depend on the concrete policy.
func (s *Service) WithGating(g Gating) *Service {
	s.gating = g
	return s
}

// WithSLA installs the deadline policy used when approval rows are created.
func (s *Service) WithSLA(p SLAPolicy) *Service {
	s.sla = p
	return s
}

// WithHistory overrides the audit sink (tests).
func (s *Service) WithHistory(h HistoryWriter) *Service {
	s.history = h
	return s
}

// WithCache installs an aggregate cache to invalidate after writes.
func (s *Service) WithCache(c Invalidator) *Service {
	s.cache = c
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StartApproval snapshots the workflow template into approval rows, moves the
// contract to in_approval and notifies the first step's approvers. The whole
// transition commits atomically.
func (s *Service) StartApproval(ctx context.Context, params StartParams) (Workflow, error) {
	if err := s.validate.Struct(params); err != nil {
		return Workflow{}, fmt.Errorf("approval: invalid start params: %w", err)
	}
	steps := append([]StepAssignment(nil), params.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Step < steps[j].Step })
	for i, st := range steps {
		if st.Step != i+1 {
			return Workflow{}, ErrStepsNotContiguous
		}
		seen := make(map[string]struct{}, len(st.ApproverIDs))
		for _, approverID := range st.ApproverIDs {
			if _, dup := seen[approverID]; dup {
				return Workflow{}, ErrDuplicateApprover
			}
			seen[approverID] = struct{}{}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Workflow{}, fmt.Errorf("approval: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ref, err := s.repo.LockContract(ctx, tx, params.ContractID)
	if err != nil {
		return Workflow{}, err
	}
	if contract.Status(ref.Status) != contract.StatusDraft {
		return Workflow{}, ErrNotDraft
	}

	submittedAt := s.now()
	toInsert := make([]Row, 0, len(steps))
	for _, st := range steps {
		for _, approverID := range st.ApproverIDs {
			toInsert = append(toInsert, Row{
				ID:           s.idGenerator(),
				ContractID:   params.ContractID,
				ApproverID:   approverID,
				WorkflowStep: st.Step,
				DueDate:      s.sla.DueDate(st.Step, submittedAt),
			})
		}
	}

	inserted, err := s.repo.InsertRows(ctx, tx, toInsert)
	if err != nil {
		return Workflow{}, err
	}

	if err := s.repo.SetContractStatus(ctx, tx, params.ContractID, string(contract.StatusInApproval)); err != nil {
		return Workflow{}, err
	}

	details := map[string]any{
		"steps":     len(steps),
		"approvals": len(inserted),
	}
	if err := s.history.Append(ctx, tx, params.ContractID, contract.ActionContractSubmitted, params.ActorID, details); err != nil {
		return Workflow{}, err
	}

	intents := requestIntents(ref, stepApprovers(inserted, 1))

	if err := tx.Commit(ctx); err != nil {
		return Workflow{}, fmt.Errorf("approval: commit start: %w", err)
	}

	s.afterCommit(ctx, intents, params.ContractID, inserted, ref)

	return Workflow{ContractID: params.ContractID, Rows: inserted}, nil
}

// Decide applies one approver's verdict on one pending step. Exactly one
// APPROVAL_DECIDED history event is appended per successful call; concurrent
// duplicates fail with ErrAlreadyDecided.
func (s *Service) Decide(ctx context.Context, params DecideParams) (Result, error) {
	if params.ContractID == "" || params.ApproverID == "" {
		return Result{}, fmt.Errorf("approval: contract and approver ids required")
	}
	if params.Step <= 0 {
		return Result{}, fmt.Errorf("approval: invalid step %d", params.Step)
	}
	switch params.Decision {
	case DecisionApprove:
	case DecisionReject:
		if params.Comment == "" {
			return Result{}, ErrCommentRequired
		}
	default:
		return Result{}, fmt.Errorf("approval: unknown decision %q", params.Decision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("approval: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ref, err := s.repo.LockContract(ctx, tx, params.ContractID)
	if err != nil {
		return Result{}, err
	}
	if contract.Status(ref.Status) != contract.StatusInApproval {
		return Result{}, ErrWorkflowClosed
	}

	rows, err := s.repo.ListRowsForUpdate(ctx, tx, params.ContractID)
	if err != nil {
		return Result{}, err
	}

	target := findRow(rows, params.Step, params.ApproverID)
	if target == nil {
		return Result{}, ErrApprovalNotFound
	}
	if target.Status != StatusPending {
		return Result{}, ErrAlreadyDecided
	}
	if err := s.gating.CanDecide(rows, params.Step); err != nil {
		return Result{}, err
	}

	newStatus := StatusApproved
	if params.Decision == DecisionReject {
		newStatus = StatusRejected
	}
	var comment *string
	if params.Comment != "" {
		comment = &params.Comment
	}

	decided, err := s.repo.DecideRow(ctx, tx, target.ID, newStatus, comment)
	if err != nil {
		return Result{}, err
	}
	*target = decided

	result := Result{Row: decided, ContractStatus: ref.Status}
	var intents []notification.Intent

	switch newStatus {
	case StatusRejected:
		if err := s.repo.SetContractStatus(ctx, tx, params.ContractID, string(contract.StatusRejected)); err != nil {
			return Result{}, err
		}
		result.ContractStatus = string(contract.StatusRejected)
		result.Completed = true
		intents = rejectionIntents(ref, decided, rows)
	case StatusApproved:
		result.StepCompleted = stepResolved(rows, params.Step)
		if result.StepCompleted {
			if next := stepApprovers(rows, params.Step+1); len(next) > 0 {
				intents = requestIntents(ref, next)
			} else {
				if err := s.repo.SetContractStatus(ctx, tx, params.ContractID, string(contract.StatusApproved)); err != nil {
					return Result{}, err
				}
				result.ContractStatus = string(contract.StatusApproved)
				result.Completed = true
				intents = approvalIntents(ref)
			}
		}
	}

	details := map[string]any{
		"workflow_step":   decided.WorkflowStep,
		"approver_id":     decided.ApproverID,
		"outcome":         string(decided.Status),
		"contract_status": result.ContractStatus,
	}
	if comment != nil {
		details["comment"] = *comment
	}
	if err := s.history.Append(ctx, tx, params.ContractID, contract.ActionApprovalDecided, params.ApproverID, details); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("approval: commit decision: %w", err)
	}

	s.afterCommit(ctx, intents, params.ContractID, rows, ref)

	return result, nil
}

// ListApprovals is the read-side passthrough used by the API layer.
func (s *Service) ListApprovals(ctx context.Context, filters ListFilters) ([]Row, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) afterCommit(ctx context.Context, intents []notification.Intent, contractID string, rows []Row, ref ContractRef) {
	if s.dispatcher != nil && len(intents) > 0 {
		s.dispatcher.Dispatch(ctx, intents)
	}
	if s.cache != nil {
		ids := make([]string, 0, len(rows)+1)
		seen := map[string]bool{}
		for _, r := range rows {
			if !seen[r.ApproverID] {
				seen[r.ApproverID] = true
				ids = append(ids, r.ApproverID)
			}
		}
		if !seen[ref.CreatedBy] {
			ids = append(ids, ref.CreatedBy)
		}
		s.cache.Invalidate(ctx, ids...)
	}
}

func findRow(rows []Row, step int, approverID string) *Row {
	for i := range rows {
		if rows[i].WorkflowStep == step && rows[i].ApproverID == approverID {
			return &rows[i]
		}
	}
	return nil
}

// stepResolved reports whether no row at the step is still pending.
func stepResolved(rows []Row, step int) bool {
	for _, r := range rows {
		if r.WorkflowStep == step && r.Status == StatusPending {
			return false
		}
	}
	return true
}

func stepApprovers(rows []Row, step int) []string {
	out := []string{}
	for _, r := range rows {
		if r.WorkflowStep == step {
			out = append(out, r.ApproverID)
		}
	}
	return out
}

func requestIntents(ref ContractRef, approverIDs []string) []notification.Intent {
	intents := make([]notification.Intent, 0, len(approverIDs))
	for _, id := range approverIDs {
		intents = append(intents, notification.Intent{
			UserID:     id,
			Type:       notification.TypeApprovalRequested,
			Title:      "Approval requested",
			Message:    fmt.Sprintf("Contract %s is waiting for your approval", ref.Number),
			ContractID: ref.ID,
			ActionURL:  contractURL(ref.ID),
		})
	}
	return intents
}

// rejectionIntents targets the initiator plus every still-pending approver,
// each recipient exactly once.
func rejectionIntents(ref ContractRef, decided Row, rows []Row) []notification.Intent {
	intents := []notification.Intent{{
		UserID:     ref.CreatedBy,
		Type:       notification.TypeContractRejected,
		Title:      "Contract rejected",
		Message:    fmt.Sprintf("Contract %s was rejected at step %d", ref.Number, decided.WorkflowStep),
		ContractID: ref.ID,
		ActionURL:  contractURL(ref.ID),
	}}
	seen := map[string]bool{ref.CreatedBy: true, decided.ApproverID: true}
	for _, r := range rows {
		if r.Status != StatusPending || seen[r.ApproverID] {
			continue
		}
		seen[r.ApproverID] = true
		intents = append(intents, notification.Intent{
			UserID:     r.ApproverID,
			Type:       notification.TypeContractRejected,
			Title:      "Approval workflow halted",
			Message:    fmt.Sprintf("Contract %s was rejected; no further action is needed", ref.Number),
			ContractID: ref.ID,
			ActionURL:  contractURL(ref.ID),
		})
	}
	return intents
}

func approvalIntents(ref ContractRef) []notification.Intent {
	return []notification.Intent{{
		UserID:     ref.CreatedBy,
		Type:       notification.TypeContractApproved,
		Title:      "Contract approved",
		Message:    fmt.Sprintf("Contract %s passed all approval steps", ref.Number),
		ContractID: ref.ID,
		ActionURL:  contractURL(ref.ID),
	}}
}

func contractURL(id string) string {
	return "/contracts/" + id
}
