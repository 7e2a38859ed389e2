package processorclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDo_DecodesTypedErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test", 5*time.Second)
	_, err := client.CreatePaymentIntent(context.Background(), CreatePaymentIntentParams{Amount: 50000, Currency: "usd"})
	if err == nil {
		t.Fatal("expected an error from the declined charge")
	}

	var procErr *ErrorResponse
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *ErrorResponse, got %T: %v", err, err)
	}
	if procErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", procErr.StatusCode)
	}
	if procErr.ErrorBody.Code != "card_declined" || procErr.ErrorBody.Type != "card_error" {
		t.Fatalf("unexpected error body: %+v", procErr.ErrorBody)
	}
}

func TestDo_UnparsableErrorBodyIsNotTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test", 5*time.Second)
	_, err := client.GetPaymentIntent(context.Background(), "pi_123")
	if err == nil {
		t.Fatal("expected an error")
	}

	var procErr *ErrorResponse
	if errors.As(err, &procErr) {
		t.Fatalf("an unparsable error body must not produce a typed rejection, got %+v", procErr)
	}
}

func TestErrorResponse_Error(t *testing.T) {
	withBody := &ErrorResponse{
		StatusCode: 402,
		ErrorBody:  ErrorBody{Type: "card_error", Code: "card_declined", Message: "Your card was declined."},
	}
	if got := withBody.Error(); got != "processor api error: card_declined - Your card was declined." {
		t.Fatalf("unexpected message: %q", got)
	}

	bare := &ErrorResponse{StatusCode: 500}
	if got := bare.Error(); got != "processor api error (status 500)" {
		t.Fatalf("unexpected message: %q", got)
	}
}
