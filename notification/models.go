package notification

import "time"

// Intent types raised by the workflow engine.
const (
	TypeApprovalRequested = "approval_requested"
	TypeContractApproved  = "contract_approved"
	TypeContractRejected  = "contract_rejected"
)

// Intent is a fully-formed description of a notification to be delivered.
// The engine raises exactly one intent per logically distinct event per
// recipient; delivery guarantees beyond that are the collaborator's problem.
type Intent struct {
	UserID     string
	Type       string
	Title      string
	Message    string
	ContractID string
	ActionURL  string
}

// Record mirrors the notifications table, the hand-off point to the delivery
// subsystem.
type Record struct {
	ID         string
	UserID     string
	Type       string
	Title      string
	Message    string
	ContractID *string
	ActionURL  *string
	Read       bool
	ReadAt     *time.Time
	CreatedAt  time.Time
}
