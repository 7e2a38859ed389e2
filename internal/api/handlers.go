/**
 * @description
 * This file contains the HTTP handlers for the payment endpoints. Handlers
 * parse incoming requests, call the appropriate methods on the application
 * service, and write the HTTP response. They act as the bridge between the web
 * layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/app"
	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/processorclient"
)

// PaymentHandlers holds the application service and validator that handlers
// will use.
type PaymentHandlers struct {
	service   *app.Service
	validator *app.ConsistencyValidator
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service, validator *app.ConsistencyValidator) *PaymentHandlers {
	return &PaymentHandlers{service: service, validator: validator}
}

// paymentIntentResponse mirrors what the web client needs to drive the
// processor's payment sheet.
type paymentIntentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
}

func buildPaymentIntentResponse(intent *processorclient.PaymentIntent) *paymentIntentResponse {
	if intent == nil {
		return nil
	}
	return &paymentIntentResponse{
		ID:           intent.ID,
		Status:       intent.Status,
		ClientSecret: intent.ClientSecret,
	}
}

// CreatePaymentIntentHandler handles requests to fund an approved milestone.
func (h *PaymentHandlers) CreatePaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.CreatePaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payment_intent outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	log.Printf("level=info component=api endpoint=create_payment_intent outcome=accepted client_id=%s contract_id=%s milestone_id=%s amount=%d",
		clientID, req.ContractID, req.MilestoneID, req.Amount)

	payment, intent, err := h.service.CreatePaymentIntent(r.Context(), clientID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_payment_intent outcome=failed client_id=%s err=%v", clientID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment":       payment,
		"paymentIntent": buildPaymentIntentResponse(intent),
	})
}

// ConfirmPaymentIntentHandler handles post-checkout confirmation polls. The
// web client redirects here after the processor's payment sheet completes.
func (h *PaymentHandlers) ConfirmPaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	externalIntentID := strings.TrimSpace(chi.URLParam(r, "externalIntentId"))
	if externalIntentID == "" {
		h.writeError(w, http.StatusBadRequest, "Payment intent ID is required")
		return
	}

	payment, intent, err := h.service.ConfirmPaymentIntent(r.Context(), externalIntentID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=confirm_payment_intent outcome=failed external_intent_id=%s err=%v", externalIntentID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":       payment,
		"paymentIntent": buildPaymentIntentResponse(intent),
	})
}

// GetPaymentHandler handles requests to fetch an individual payment by UUID.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	callerRole, _ := GetAuthRole(r.Context())

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), callerID, callerRole, paymentID)
	if err != nil {
		if !errors.Is(err, store.ErrPaymentNotFound) && !errors.Is(err, app.ErrNotAuthorized) {
			log.Printf("level=error component=api endpoint=get_payment outcome=failed payment_id=%s user_id=%s err=%v", paymentID, callerID, err)
		}
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, payment)
}

// GetPaymentHistoryHandler handles requests for the caller's payment history.
func (h *PaymentHandlers) GetPaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	page, err := parseOptionalInt(r.URL.Query().Get("page"), 1)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	opts := domain.PaymentHistoryOptions{
		Page:   page,
		Limit:  limit,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
	}

	history, err := h.service.ListPaymentHistory(r.Context(), userID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_history outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, history)
}

// ReleaseEscrowHandler handles requests to release a completed payment's
// escrowed funds to the freelancer's balance.
func (h *PaymentHandlers) ReleaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	callerRole, _ := GetAuthRole(r.Context())

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	log.Printf("level=info component=api endpoint=release_escrow outcome=accepted payment_id=%s caller_id=%s", paymentID, callerID)

	payment, freelancerBalance, err := h.service.ReleaseEscrow(r.Context(), callerID, callerRole, paymentID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=release_escrow outcome=failed payment_id=%s caller_id=%s err=%v", paymentID, callerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":           payment,
		"freelancerBalance": freelancerBalance,
	})
}

// RefundPaymentHandler handles requests to reverse a completed payment.
func (h *PaymentHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	callerRole, _ := GetAuthRole(r.Context())

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format")
		return
	}

	var req domain.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=refund_payment outcome=accepted payment_id=%s caller_id=%s", paymentID, callerID)

	payment, refund, err := h.service.RefundPayment(r.Context(), callerID, callerRole, paymentID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=refund_payment outcome=failed payment_id=%s caller_id=%s err=%v", paymentID, callerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment": payment,
		"refund":  refund,
	})
}

// writeServiceError maps application and store errors to HTTP statuses.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var procErr *processorclient.ErrorResponse

	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrAmountMismatch),
		errors.Is(err, app.ErrMilestoneMismatch),
		errors.Is(err, app.ErrRefundTooLarge):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotContractClient),
		errors.Is(err, app.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrContractNotFound),
		errors.Is(err, store.ErrMilestoneNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPayoutMethodNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientBalance):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrMilestoneNotApproved),
		errors.Is(err, app.ErrAccountNotActive),
		errors.Is(err, app.ErrPayoutMethodInactive),
		errors.Is(err, app.ErrPaymentNotCompleted),
		errors.Is(err, app.ErrPaymentNotReleasable),
		errors.Is(err, app.ErrPaymentNotRefundable),
		errors.Is(err, app.ErrRefundWindowExpired),
		errors.Is(err, store.ErrEscrowAccountExists),
		errors.Is(err, store.ErrDuplicateMilestonePayment),
		errors.Is(err, store.ErrReleaseAlreadyDone):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &procErr):
		h.writeError(w, http.StatusBadGateway, fmt.Sprintf("Payment processor rejected the request: %s", procErr.Error()))
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// parseOptionalInt parses a query parameter that may be absent.
func parseOptionalInt(value string, fallback int) (int, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return parsed, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
