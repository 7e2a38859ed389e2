/**
 * @description
 * This file contains the admin-only HTTP handlers for the consistency
 * validator. Both endpoints sit behind the RequireAdmin middleware.
 */

package api

import (
	"log"
	"net/http"
)

// ValidateConsistencyHandler runs the read-only consistency checks and
// returns the full report.
func (h *PaymentHandlers) ValidateConsistencyHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.validator.Validate(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=consistency_validate outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// FixConsistencyHandler re-validates and repairs auto-fixable issues,
// returning the per-issue results.
func (h *PaymentHandlers) FixConsistencyHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.validator.Fix(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=consistency_fix outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}
