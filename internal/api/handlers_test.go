package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gigvault/escrow-service/internal/app"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/processorclient"
)

func TestWriteServiceError_MapsErrorsToStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid amount", err: app.ErrInvalidAmount, want: http.StatusBadRequest},
		{name: "amount mismatch", err: app.ErrAmountMismatch, want: http.StatusBadRequest},
		{name: "refund too large", err: app.ErrRefundTooLarge, want: http.StatusBadRequest},
		{name: "not contract client", err: app.ErrNotContractClient, want: http.StatusForbidden},
		{name: "not authorized", err: app.ErrNotAuthorized, want: http.StatusForbidden},
		{name: "payment not found", err: store.ErrPaymentNotFound, want: http.StatusNotFound},
		{name: "contract not found", err: store.ErrContractNotFound, want: http.StatusNotFound},
		{name: "insufficient balance", err: store.ErrInsufficientBalance, want: http.StatusPaymentRequired},
		{name: "milestone not approved", err: app.ErrMilestoneNotApproved, want: http.StatusConflict},
		{name: "payment not releasable", err: app.ErrPaymentNotReleasable, want: http.StatusConflict},
		{name: "duplicate milestone payment", err: store.ErrDuplicateMilestonePayment, want: http.StatusConflict},
		{name: "release already done", err: store.ErrReleaseAlreadyDone, want: http.StatusConflict},
		{name: "refund window expired", err: app.ErrRefundWindowExpired, want: http.StatusConflict},
		{name: "processor rejection", err: &processorclient.ErrorResponse{StatusCode: 402}, want: http.StatusBadGateway},
		{name: "unexpected error", err: errors.New("pool exhausted"), want: http.StatusInternalServerError},
	}

	h := &PaymentHandlers{}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.writeServiceError(recorder, tc.err)
			if recorder.Code != tc.want {
				t.Fatalf("expected status %d for %v, got %d", tc.want, tc.err, recorder.Code)
			}
		})
	}
}

func TestWriteServiceError_HidesInternalDetail(t *testing.T) {
	h := &PaymentHandlers{}
	recorder := httptest.NewRecorder()
	h.writeServiceError(recorder, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if body == "" {
		t.Fatal("expected an error body")
	}
	if strings.Contains(body, "connection refused") {
		t.Fatalf("internal error detail leaked to client: %s", body)
	}
}

func TestParseOptionalInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "empty uses fallback", value: "", fallback: 20, want: 20},
		{name: "whitespace uses fallback", value: "  ", fallback: 1, want: 1},
		{name: "valid value parsed", value: "42", fallback: 20, want: 42},
		{name: "zero allowed", value: "0", fallback: 20, want: 0},
		{name: "negative rejected", value: "-3", fallback: 20, wantErr: true},
		{name: "non-numeric rejected", value: "abc", fallback: 20, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOptionalInt(tc.value, tc.fallback)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %d", tc.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("parseOptionalInt(%q) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestBuildPaymentIntentResponse(t *testing.T) {
	if got := buildPaymentIntentResponse(nil); got != nil {
		t.Fatalf("expected nil response for nil intent, got %+v", got)
	}

	intent := &processorclient.PaymentIntent{
		ID:           "pi_123",
		Status:       processorclient.IntentStatusProcessing,
		ClientSecret: "pi_123_secret",
	}
	got := buildPaymentIntentResponse(intent)
	if got.ID != "pi_123" || got.Status != processorclient.IntentStatusProcessing || got.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected response: %+v", got)
	}
}
