package main

import (
	"encoding/json"
	"time"

	"contractflow/approval"
	"contractflow/auth"
	"contractflow/contract"
	"contractflow/notification"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role"`
	CreatedAt  string `json:"createdAt"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type createContractRequest struct {
	Number          string     `json:"number"`
	Counterparty    string     `json:"counterparty"`
	Amount          float64    `json:"amount"`
	StartDate       *time.Time `json:"startDate"`
	EndDate         *time.Time `json:"endDate"`
	ShippingTerms   *string    `json:"shippingTerms"`
	ShippingAddress *string    `json:"shippingAddress"`
}

func (r createContractRequest) toParams() contract.CreateParams {
	return contract.CreateParams{
		Number:          r.Number,
		Counterparty:    r.Counterparty,
		Amount:          r.Amount,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		ShippingTerms:   r.ShippingTerms,
		ShippingAddress: r.ShippingAddress,
	}
}

type shippingRequest struct {
	ShippingTerms   *string `json:"shippingTerms"`
	ShippingAddress *string `json:"shippingAddress"`
}

type submitRequest struct {
	Steps []stepRequest `json:"steps"`
}

type stepRequest struct {
	Step        int      `json:"step"`
	ApproverIDs []string `json:"approverIds"`
}

type decideRequest struct {
	Step     int    `json:"step"`
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

type decideResponse struct {
	Approval       approvalResponse `json:"approval"`
	ContractStatus string           `json:"contractStatus"`
	StepCompleted  bool             `json:"stepCompleted"`
	Completed      bool             `json:"completed"`
}

type contractResponse struct {
	ID              string  `json:"id"`
	Number          string  `json:"number"`
	Counterparty    string  `json:"counterparty"`
	Amount          float64 `json:"amount"`
	StartDate       *string `json:"startDate,omitempty"`
	EndDate         *string `json:"endDate,omitempty"`
	ShippingTerms   *string `json:"shippingTerms,omitempty"`
	ShippingAddress *string `json:"shippingAddress,omitempty"`
	Status          string  `json:"status"`
	CreatedBy       string  `json:"createdBy"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

type contractDetailResponse struct {
	Contract  contractResponse   `json:"contract"`
	Approvals []approvalResponse `json:"approvals"`
	History   []historyResponse  `json:"history"`
}

type approvalResponse struct {
	ID           string  `json:"id"`
	ContractID   string  `json:"contractId,omitempty"`
	ApproverID   string  `json:"approverId"`
	ApproverName string  `json:"approverName,omitempty"`
	WorkflowStep int     `json:"workflowStep"`
	Status       string  `json:"status"`
	Comment      *string `json:"comment,omitempty"`
	DueDate      *string `json:"dueDate,omitempty"`
	DecidedAt    *string `json:"decidedAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

type historyResponse struct {
	Seq       int             `json:"seq"`
	Action    string          `json:"action"`
	ActorID   *string         `json:"actorId,omitempty"`
	Details   json.RawMessage `json:"details"`
	CreatedAt string          `json:"createdAt"`
}

type pendingResponse struct {
	ApprovalID     string `json:"approvalId"`
	ContractID     string `json:"contractId"`
	ContractNumber string `json:"contractNumber"`
	ApproverID     string `json:"approverId"`
	WorkflowStep   int    `json:"workflowStep"`
	DueDate        string `json:"dueDate"`
	CreatedAt      string `json:"createdAt"`
}

type notificationResponse struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Message    string  `json:"message"`
	ContractID *string `json:"contractId,omitempty"`
	ActionURL  *string `json:"actionUrl,omitempty"`
	Read       bool    `json:"read"`
	ReadAt     *string `json:"readAt,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
	if u.Department != nil {
		resp.Department = *u.Department
	}
	return resp
}

func toContractResponse(rec contract.Record) contractResponse {
	return contractResponse{
		ID:              rec.ID,
		Number:          rec.Number,
		Counterparty:    rec.Counterparty,
		Amount:          rec.Amount,
		StartDate:       formatDatePtr(rec.StartDate),
		EndDate:         formatDatePtr(rec.EndDate),
		ShippingTerms:   rec.ShippingTerms,
		ShippingAddress: rec.ShippingAddress,
		Status:          string(rec.Status),
		CreatedBy:       rec.CreatedBy,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toContractDetailResponse(d contract.Detail) contractDetailResponse {
	approvals := make([]approvalResponse, 0, len(d.Approvals))
	for _, a := range d.Approvals {
		approvals = append(approvals, approvalResponse{
			ID:           a.ID,
			ApproverID:   a.ApproverID,
			ApproverName: a.ApproverName,
			WorkflowStep: a.WorkflowStep,
			Status:       a.Status,
			Comment:      a.Comment,
			DueDate:      formatTimePtr(a.DueDate),
			DecidedAt:    formatTimePtr(a.DecidedAt),
			CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		})
	}
	history := make([]historyResponse, 0, len(d.History))
	for _, ev := range d.History {
		history = append(history, toHistoryResponse(ev))
	}
	return contractDetailResponse{
		Contract:  toContractResponse(d.Contract),
		Approvals: approvals,
		History:   history,
	}
}

func toHistoryResponse(ev contract.HistoryEvent) historyResponse {
	return historyResponse{
		Seq:       ev.Seq,
		Action:    string(ev.Action),
		ActorID:   ev.ActorID,
		Details:   json.RawMessage(ev.Details),
		CreatedAt: ev.CreatedAt.Format(time.RFC3339),
	}
}

func toApprovalResponse(row approval.Row) approvalResponse {
	return approvalResponse{
		ID:           row.ID,
		ContractID:   row.ContractID,
		ApproverID:   row.ApproverID,
		WorkflowStep: row.WorkflowStep,
		Status:       string(row.Status),
		Comment:      row.Comment,
		DueDate:      formatTimePtr(row.DueDate),
		DecidedAt:    formatTimePtr(row.DecidedAt),
		CreatedAt:    row.CreatedAt.Format(time.RFC3339),
	}
}

func toPendingResponse(p approval.PendingApproval) pendingResponse {
	return pendingResponse{
		ApprovalID:     p.ApprovalID,
		ContractID:     p.ContractID,
		ContractNumber: p.ContractNumber,
		ApproverID:     p.ApproverID,
		WorkflowStep:   p.WorkflowStep,
		DueDate:        p.DueDate.Format(time.RFC3339),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

func toNotificationResponse(rec notification.Record) notificationResponse {
	return notificationResponse{
		ID:         rec.ID,
		Type:       rec.Type,
		Title:      rec.Title,
		Message:    rec.Message,
		ContractID: rec.ContractID,
		ActionURL:  rec.ActionURL,
		Read:       rec.Read,
		ReadAt:     formatTimePtr(rec.ReadAt),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
