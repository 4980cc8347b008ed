package approval

import "time"

// Status is the closed set of approval row states. A row is decided exactly
// once and never reopened.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is the closed set of actor verdicts.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Row mirrors the approvals table.
type Row struct {
	ID           string
	ContractID   string
	ApproverID   string
	WorkflowStep int
	Status       Status
	Comment      *string
	DueDate      *time.Time
	DecidedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepAssignment names the approvers of one workflow step.
type StepAssignment struct {
	Step        int      `validate:"required,gt=0"`
	ApproverIDs []string `validate:"required,min=1,dive,required,uuid4"`
}

// StartParams submits a draft contract into approval with its full step
// sequence. Steps must form a contiguous ascending sequence starting at 1.
type StartParams struct {
	ContractID string           `validate:"required,uuid4"`
	ActorID    string           `validate:"required,uuid4"`
	Steps      []StepAssignment `validate:"required,min=1,dive"`
}

// DecideParams identifies one pending approval row and the verdict on it.
type DecideParams struct {
	ContractID string
	ApproverID string
	Step       int
	Decision   Decision
	Comment    string
}

// Workflow is the snapshot returned after starting an approval sequence.
type Workflow struct {
	ContractID string
	Rows       []Row
}

// Result describes the committed outcome of a decision.
type Result struct {
	Row            Row
	ContractStatus string
	StepCompleted  bool
	Completed      bool
}

// ListFilters narrows approval listings.
type ListFilters struct {
	ApproverID string
	ContractID string
	Status     Status
	DueBefore  *time.Time
	DueAfter   *time.Time
}

// Filter narrows scanner queries to one approver; zero value means all.
type Filter struct {
	ApproverID string
}

// PendingApproval is the scanner's read-only projection of a pending row
// joined with its contract.
type PendingApproval struct {
	ApprovalID     string
	ContractID     string
	ContractNumber string
	ApproverID     string
	WorkflowStep   int
	DueDate        time.Time
	CreatedAt      time.Time
}

// Stats aggregates approval counts, optionally per approver. Derived at read
// time; no mutable aggregate state exists.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Overdue  int `json:"overdue"`
	DueSoon  int `json:"dueSoon"`
}
