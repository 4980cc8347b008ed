package contract

import "time"

// Status is the closed set of contract lifecycle states. The workflow engine
// only ever writes in_approval, approved and rejected; signed and archived
// belong to the surrounding application.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInApproval Status = "in_approval"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSigned     Status = "signed"
	StatusArchived   Status = "archived"
)

// Terminal reports whether no further workflow transitions are legal.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusSigned, StatusArchived:
		return true
	default:
		return false
	}
}

// HistoryAction tags an immutable audit event.
type HistoryAction string

const (
	ActionContractCreated   HistoryAction = "CONTRACT_CREATED"
	ActionContractUpdated   HistoryAction = "CONTRACT_UPDATED"
	ActionContractSubmitted HistoryAction = "CONTRACT_SUBMITTED"
	ActionShippingUpdated   HistoryAction = "SHIPPING_UPDATED"
	ActionApprovalDecided   HistoryAction = "APPROVAL_DECIDED"
)

// Record mirrors the contracts table.
type Record struct {
	ID              string
	Number          string
	Counterparty    string
	Amount          float64
	StartDate       *time.Time
	EndDate         *time.Time
	ShippingTerms   *string
	ShippingAddress *string
	Status          Status
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HistoryEvent is one append-only audit entry. Seq is strictly monotonic per
// contract and assigned under the contract row lock.
type HistoryEvent struct {
	ID         int64
	ContractID string
	Seq        int
	Action     HistoryAction
	ActorID    *string
	Details    []byte
	CreatedAt  time.Time
}

// ApprovalSummary is the read-side projection of an approval row attached to
// a contract snapshot. The approval package owns the write side.
type ApprovalSummary struct {
	ID           string
	ApproverID   string
	ApproverName string
	WorkflowStep int
	Status       string
	Comment      *string
	DueDate      *time.Time
	DecidedAt    *time.Time
	CreatedAt    time.Time
}

// Detail bundles a contract with its approvals and audit trail, read in one
// consistent snapshot.
type Detail struct {
	Contract  Record
	Approvals []ApprovalSummary
	History   []HistoryEvent
}

// CreateParams carries caller-supplied fields for a new contract.
type CreateParams struct {
	Number          string
	Counterparty    string
	Amount          float64
	StartDate       *time.Time
	EndDate         *time.Time
	ShippingTerms   *string
	ShippingAddress *string
}

// ShippingParams updates the shipping fields of a contract.
type ShippingParams struct {
	ContractID      string
	ActorID         string
	ShippingTerms   *string
	ShippingAddress *string
}

// ListFilters narrows and pages contract listings.
type ListFilters struct {
	CreatedBy string
	Status    Status
	Page      int
	PageSize  int
}
