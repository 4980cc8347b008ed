package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"contractflow/approval"
	"contractflow/auth"
	"contractflow/contract"
	"contractflow/notification"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

type contractService interface {
	Create(ctx context.Context, creatorID string, params contract.CreateParams) (contract.Record, error)
	Get(ctx context.Context, id string) (contract.Detail, error)
	History(ctx context.Context, id string) ([]contract.HistoryEvent, error)
	List(ctx context.Context, filters contract.ListFilters) ([]contract.Record, int, error)
	UpdateShipping(ctx context.Context, params contract.ShippingParams) (contract.Record, error)
}

type approvalService interface {
	StartApproval(ctx context.Context, params approval.StartParams) (approval.Workflow, error)
	Decide(ctx context.Context, params approval.DecideParams) (approval.Result, error)
	ListApprovals(ctx context.Context, filters approval.ListFilters) ([]approval.Row, error)
}

type deadlineScanner interface {
	Overdue(ctx context.Context, now time.Time, filter approval.Filter) ([]approval.PendingApproval, error)
	DueSoon(ctx context.Context, now time.Time, horizon time.Duration, filter approval.Filter) ([]approval.PendingApproval, error)
}

type statsProvider interface {
	Stats(ctx context.Context, now time.Time, horizon time.Duration, filter approval.Filter) (approval.Stats, error)
}

type notificationStore interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notification.Record, error)
	MarkRead(ctx context.Context, userID, notificationID string) (notification.Record, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService         authService
	contractService     contractService
	approvalService     approvalService
	scannerService      deadlineScanner
	statsService        statsProvider
	notificationService notificationStore

	dueSoonHorizon time.Duration
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("/api/contracts", s.requireAuth(s.handleContracts))
	mux.HandleFunc("/api/contracts/", s.requireAuth(s.handleContractDetail))
	mux.HandleFunc("/api/approvals", s.requireAuth(s.handleApprovals))
	mux.HandleFunc("/api/approvals/stats", s.requireAuth(s.handleApprovalStats))
	mux.HandleFunc("/api/notifications", s.requireAuth(s.handleNotifications))
	mux.HandleFunc("/api/notifications/", s.requireAuth(s.handleNotificationDetail))
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid registration")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListContracts(w, r)
	case http.MethodPost:
		s.handleCreateContract(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := contract.ListFilters{
		CreatedBy: q.Get("createdBy"),
		Status:    contract.Status(q.Get("status")),
		Page:      atoiDefault(q.Get("page"), 1),
		PageSize:  atoiDefault(q.Get("pageSize"), 20),
	}
	if q.Get("mine") == "true" {
		filters.CreatedBy, _ = r.Context().Value(ctxKeyUserID).(string)
	}

	records, total, err := s.contractService.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list contracts failed")
		return
	}
	items := make([]contractResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toContractResponse(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[contractResponse]{Items: items, Total: total})
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleInitiator && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only initiators create contracts")
		return
	}

	var req createContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rec, err := s.contractService.Create(r.Context(), userID, req.toParams())
	if err != nil {
		if errors.Is(err, contract.ErrDuplicateNumber) {
			writeError(w, http.StatusConflict, "contract number already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toContractResponse(rec))
}

func (s *Server) handleContractDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/contracts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "contract id required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetContract(w, r, id)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		s.handleContractHistory(w, r, id)
	case len(parts) == 2 && parts[1] == "submit" && r.Method == http.MethodPost:
		s.handleSubmitContract(w, r, id)
	case len(parts) == 2 && parts[1] == "approvals" && r.Method == http.MethodPost:
		s.handleDecide(w, r, id)
	case len(parts) == 2 && parts[1] == "shipping" && r.Method == http.MethodPatch:
		s.handleUpdateShipping(w, r, id)
	case len(parts) <= 2:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load profile failed")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request, id string) {
	detail, err := s.contractService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, contract.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contract not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get contract failed")
		return
	}
	writeJSON(w, http.StatusOK, toContractDetailResponse(detail))
}

func (s *Server) handleContractHistory(w http.ResponseWriter, r *http.Request, id string) {
	events, err := s.contractService.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, contract.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contract not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	items := make([]historyResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, toHistoryResponse(ev))
	}
	writeJSON(w, http.StatusOK, listResponse[historyResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleSubmitContract(w http.ResponseWriter, r *http.Request, id string) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleInitiator && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only initiators submit contracts")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	steps := make([]approval.StepAssignment, 0, len(req.Steps))
	for _, st := range req.Steps {
		steps = append(steps, approval.StepAssignment{Step: st.Step, ApproverIDs: st.ApproverIDs})
	}

	wf, err := s.approvalService.StartApproval(r.Context(), approval.StartParams{
		ContractID: id,
		ActorID:    userID,
		Steps:      steps,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	items := make([]approvalResponse, 0, len(wf.Rows))
	for _, row := range wf.Rows {
		items = append(items, toApprovalResponse(row))
	}
	writeJSON(w, http.StatusCreated, listResponse[approvalResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request, id string) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := s.approvalService.Decide(r.Context(), approval.DecideParams{
		ContractID: id,
		ApproverID: userID,
		Step:       req.Step,
		Decision:   approval.Decision(req.Decision),
		Comment:    req.Comment,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decideResponse{
		Approval:       toApprovalResponse(res.Row),
		ContractStatus: res.ContractStatus,
		StepCompleted:  res.StepCompleted,
		Completed:      res.Completed,
	})
}

func (s *Server) handleUpdateShipping(w http.ResponseWriter, r *http.Request, id string) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	var req shippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rec, err := s.contractService.UpdateShipping(r.Context(), contract.ShippingParams{
		ContractID:      id,
		ActorID:         userID,
		ShippingTerms:   req.ShippingTerms,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		switch {
		case errors.Is(err, contract.ErrNotFound):
			writeError(w, http.StatusNotFound, "contract not found")
		case errors.Is(err, contract.ErrClosed):
			writeError(w, http.StatusConflict, "contract is closed")
		default:
			writeError(w, http.StatusInternalServerError, "update shipping failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(rec))
}

// handleApprovals lists the caller's approvals. view=overdue and view=due_soon
// switch to the scanner windows; admins may inspect another approver via
// approverId.
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	q := r.URL.Query()

	approverID := userID
	if requested := q.Get("approverId"); requested != "" && role == auth.RoleAdmin {
		approverID = requested
	}

	switch q.Get("view") {
	case "overdue":
		pending, err := s.scannerService.Overdue(r.Context(), time.Now(), approval.Filter{ApproverID: approverID})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "overdue scan failed")
			return
		}
		writePending(w, pending)
	case "due_soon":
		pending, err := s.scannerService.DueSoon(r.Context(), time.Now(), s.horizonFrom(q.Get("horizonHours")), approval.Filter{ApproverID: approverID})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "due-soon scan failed")
			return
		}
		writePending(w, pending)
	case "":
		rows, err := s.approvalService.ListApprovals(r.Context(), approval.ListFilters{
			ApproverID: approverID,
			ContractID: q.Get("contractId"),
			Status:     approval.Status(q.Get("status")),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list approvals failed")
			return
		}
		items := make([]approvalResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, toApprovalResponse(row))
		}
		writeJSON(w, http.StatusOK, listResponse[approvalResponse]{Items: items, Total: len(items)})
	default:
		writeError(w, http.StatusBadRequest, "unknown view")
	}
}

func (s *Server) handleApprovalStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	q := r.URL.Query()

	filter := approval.Filter{ApproverID: userID}
	if role == auth.RoleAdmin {
		if q.Get("all") == "true" {
			filter.ApproverID = ""
		} else if requested := q.Get("approverId"); requested != "" {
			filter.ApproverID = requested
		}
	}

	st, err := s.statsService.Stats(r.Context(), time.Now(), s.horizonFrom(q.Get("horizonHours")), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	q := r.URL.Query()

	records, err := s.notificationService.ListForUser(r.Context(), userID, q.Get("unread") == "true", atoiDefault(q.Get("limit"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list notifications failed")
		return
	}
	items := make([]notificationResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toNotificationResponse(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[notificationResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleNotificationDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	rec, err := s.notificationService.MarkRead(r.Context(), userID, parts[0])
	if err != nil {
		switch {
		case errors.Is(err, notification.ErrNotFound):
			writeError(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, notification.ErrAlreadyRead):
			writeError(w, http.StatusConflict, "notification already read")
		default:
			writeError(w, http.StatusInternalServerError, "mark read failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponse(rec))
}

func (s *Server) horizonFrom(raw string) time.Duration {
	if hours := atoiDefault(raw, 0); hours > 0 {
		return time.Duration(hours) * time.Hour
	}
	if s.dueSoonHorizon > 0 {
		return s.dueSoonHorizon
	}
	return approval.DefaultDueSoonHorizon
}

// writeWorkflowError maps workflow errors onto HTTP statuses: missing rows to
// 404, state conflicts to 409, bad input to 400.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, approval.ErrContractNotFound), errors.Is(err, approval.ErrApprovalNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, approval.ErrAlreadyDecided),
		errors.Is(err, approval.ErrOutOfSequence),
		errors.Is(err, approval.ErrWorkflowClosed),
		errors.Is(err, approval.ErrNotDraft):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, approval.ErrCommentRequired),
		errors.Is(err, approval.ErrStepsNotContiguous),
		errors.Is(err, approval.ErrDuplicateApprover),
		errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "workflow operation failed")
	}
}

func writePending(w http.ResponseWriter, pending []approval.PendingApproval) {
	items := make([]pendingResponse, 0, len(pending))
	for _, p := range pending {
		items = append(items, toPendingResponse(p))
	}
	writeJSON(w, http.StatusOK, listResponse[pendingResponse]{Items: items, Total: len(items)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
