package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/tcc-account/internal/models"
	"github.com/ruralpay/tcc-account/internal/services"
)

const maxBodyBytes = 1_048_576

// Participant is what the RPC surface needs from the TCC participant.
type Participant interface {
	Try(ctx context.Context, xid string, branchID int64, userID string, amount int64) error
	Confirm(ctx context.Context, xid string, branchID int64) error
	Cancel(ctx context.Context, xid string, branchID int64) error
	Branch(ctx context.Context, xid string, branchID int64) (*models.TransactionLog, error)
	Account(ctx context.Context, userID string) (*models.Account, error)
}

// TryRequest is the body of POST /tcc/try.
type TryRequest struct {
	XID      string `json:"xid" validate:"required,max=128"`
	BranchID int64  `json:"branchId" validate:"gte=0"`
	UserID   string `json:"userId" validate:"required,max=64"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

// BranchRequest is the body of POST /tcc/confirm and POST /tcc/cancel.
type BranchRequest struct {
	XID      string `json:"xid" validate:"required,max=128"`
	BranchID int64  `json:"branchId" validate:"gte=0"`
}

type BranchResult struct {
	Result   string `json:"result"`
	XID      string `json:"xid"`
	BranchID int64  `json:"branchId"`
}

type TCCHandler struct {
	participant Participant
	validator   *services.ValidationHelper
}

func NewTCCHandler(participant Participant) *TCCHandler {
	return &TCCHandler{
		participant: participant,
		validator:   services.NewValidationHelper(),
	}
}

// Routes mounts the coordinator-facing branch calls and the inspection reads.
func (h *TCCHandler) Routes(r chi.Router) {
	r.Post("/tcc/try", h.Try)
	r.Post("/tcc/confirm", h.Confirm)
	r.Post("/tcc/cancel", h.Cancel)
	r.Get("/tcc/branches/{xid}/{branchId}", h.GetBranch)
	r.Get("/accounts/{userId}", h.GetAccount)
}

// Try reserves funds for a branch
// @Summary TCC Try
// @Description Freeze amount on the user's account for branch (xid, branchId). Idempotent.
// @Tags TCC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TryRequest true "Try request"
// @Success 200 {object} BranchResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /tcc/try [post]
func (h *TCCHandler) Try(w http.ResponseWriter, r *http.Request) {
	var req TryRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.participant.Try(r.Context(), req.XID, req.BranchID, req.UserID, req.Amount)
	h.respond(w, req.XID, req.BranchID, err)
}

// Confirm consumes the funds Try froze
// @Summary TCC Confirm
// @Tags TCC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body BranchRequest true "Confirm request"
// @Success 200 {object} BranchResult
// @Failure 409 {object} services.ErrorResponse
// @Failure 425 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /tcc/confirm [post]
func (h *TCCHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req BranchRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.participant.Confirm(r.Context(), req.XID, req.BranchID)
	h.respond(w, req.XID, req.BranchID, err)
}

// Cancel releases the funds Try froze
// @Summary TCC Cancel
// @Description Release frozen funds. Cancelling a branch that never ran Try records it as cancelled.
// @Tags TCC
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body BranchRequest true "Cancel request"
// @Success 200 {object} BranchResult
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /tcc/cancel [post]
func (h *TCCHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req BranchRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.participant.Cancel(r.Context(), req.XID, req.BranchID)
	h.respond(w, req.XID, req.BranchID, err)
}

// GetBranch returns the branch log row
// @Summary Get branch
// @Tags TCC
// @Produce json
// @Security BearerAuth
// @Param xid path string true "Global transaction id"
// @Param branchId path int true "Branch id"
// @Success 200 {object} models.TransactionLog
// @Failure 425 {object} services.ErrorResponse
// @Router /tcc/branches/{xid}/{branchId} [get]
func (h *TCCHandler) GetBranch(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")
	branchID, err := strconv.ParseInt(chi.URLParam(r, "branchId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, services.ResultInvalidRequest, "branchId must be an integer", http.StatusBadRequest, nil)
		return
	}

	branch, err := h.participant.Branch(r.Context(), xid, branchID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

// GetAccount returns an account's balances
// @Summary Get account
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User id"
// @Success 200 {object} models.Account
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{userId} [get]
func (h *TCCHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.participant.Account(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *TCCHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, services.ResultInvalidRequest, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		services.SendErrorResponse(w, services.ResultInvalidRequest, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, services.ResultInvalidRequest, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *TCCHandler) respond(w http.ResponseWriter, xid string, branchID int64, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BranchResult{Result: services.ResultOK.String(), XID: xid, BranchID: branchID})
}

func (h *TCCHandler) fail(w http.ResponseWriter, err error) {
	result := services.ResultOf(err)
	if result.Retryable() {
		w.Header().Set("Retry-After", "1")
	}

	message := err.Error()
	if result == services.ResultStoreUnavailable {
		// Driver errors stay in the server log.
		message = services.ErrStoreUnavailable.Error()
	}
	services.SendErrorResponse(w, result, message, StatusFor(result), nil)
}

// StatusFor maps a branch call result onto an HTTP status.
func StatusFor(result services.Result) int {
	switch result {
	case services.ResultOK:
		return http.StatusOK
	case services.ResultInvalidRequest:
		return http.StatusBadRequest
	case services.ResultAccountNotFound:
		return http.StatusNotFound
	case services.ResultInsufficientFunds:
		return http.StatusUnprocessableEntity
	case services.ResultInvalidTransition:
		return http.StatusConflict
	case services.ResultUnknownBranch:
		return http.StatusTooEarly
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
