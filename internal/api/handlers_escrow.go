/**
 * @description
 * This file contains the HTTP handlers for escrow account onboarding, payout
 * method management and payout requests. They follow the same pattern as the
 * payment handlers: parse, delegate to the service, map errors to statuses.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gigvault/escrow-service/internal/domain"
)

// CreateEscrowAccountHandler handles requests to start payout onboarding for a
// freelancer.
func (h *PaymentHandlers) CreateEscrowAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.CreateEscrowAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=create_escrow_account outcome=accepted user_id=%s account_type=%s", userID, req.AccountType)

	account, onboardingURL, err := h.service.CreateEscrowAccount(r.Context(), userID, req.AccountType)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_escrow_account outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"escrowAccount": account,
		"onboardingUrl": onboardingURL,
	})
}

// GetEscrowAccountHandler handles requests to fetch the caller's escrow
// account and its current onboarding status.
func (h *PaymentHandlers) GetEscrowAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	account, providerAccount, err := h.service.GetEscrowAccount(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	response := map[string]interface{}{"escrowAccount": account}
	if providerAccount != nil {
		response["processorAccount"] = map[string]interface{}{
			"details_submitted": providerAccount.DetailsSubmitted,
			"payouts_enabled":   providerAccount.PayoutsEnabled,
			"charges_enabled":   providerAccount.ChargesEnabled,
		}
	}
	h.writeJSON(w, http.StatusOK, response)
}

// AddPayoutMethodHandler handles requests to attach a payout destination to
// the caller's escrow account.
func (h *PaymentHandlers) AddPayoutMethodHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.AddPayoutMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	method, err := h.service.AddPayoutMethod(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=add_payout_method outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"payoutMethod": method})
}

// RequestPayoutHandler handles requests to withdraw available escrow balance
// to an external payout method.
func (h *PaymentHandlers) RequestPayoutHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=request_payout outcome=accepted user_id=%s amount=%d payout_method_id=%s", userID, req.Amount, req.PayoutMethodID)

	payment, transfer, err := h.service.RequestPayout(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=request_payout outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment":  payment,
		"transfer": transfer,
	})
}
