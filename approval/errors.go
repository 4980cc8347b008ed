package approval

import "errors"

var (
	// ErrContractNotFound is returned when the contract does not exist.
	ErrContractNotFound = errors.New("approval: contract not found")
	// ErrApprovalNotFound is returned when no approval row matches the
	// (contract, step, approver) triple.
	ErrApprovalNotFound = errors.New("approval: not found")
	// ErrAlreadyDecided signals the row already carries a terminal decision.
	ErrAlreadyDecided = errors.New("approval: already decided")
	// ErrOutOfSequence signals the gating policy forbids deciding this step
	// while earlier steps are unresolved.
	ErrOutOfSequence = errors.New("approval: step out of sequence")
	// ErrCommentRequired signals a rejection without a comment.
	ErrCommentRequired = errors.New("approval: rejection requires a comment")
	// ErrWorkflowClosed signals the contract is not in approval, so no
	// decision is legal.
	ErrWorkflowClosed = errors.New("approval: workflow closed")
	// ErrNotDraft signals an attempt to start approval on a contract that
	// already left the draft state.
	ErrNotDraft = errors.New("approval: contract is not a draft")
	// ErrStepsNotContiguous signals workflow steps that do not form a
	// contiguous ascending sequence starting at 1.
	ErrStepsNotContiguous = errors.New("approval: steps must be contiguous from 1")
	// ErrDuplicateApprover signals the same approver listed more than once
	// within a single step.
	ErrDuplicateApprover = errors.New("approval: duplicate approver in step")
)
