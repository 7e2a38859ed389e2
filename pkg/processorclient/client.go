/**
 * @description
 * This package provides a client for interacting with the external payment
 * processor's API. It encapsulates the logic for making authenticated HTTP
 * requests to the processor's endpoints, handling request body construction,
 * and parsing responses.
 *
 * The processor exposes the usual marketplace capability surface: payment
 * intents (charge a client, multi-step confirmation), connected accounts
 * (freelancer onboarding), payment methods, transfers (payouts) and refunds.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package processorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Payment intent statuses reported by the processor.
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusPaymentFailed  = "payment_failed"
	IntentStatusProcessing     = "processing"
	IntentStatusRequiresAction = "requires_action"
)

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new processor API client. Calls are bounded by the
// client timeout; a timed-out call leaves the local payment in `processing`
// for later reconciliation.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreatePaymentIntentParams is the payload for creating and confirming a charge.
type CreatePaymentIntentParams struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	PaymentMethodID string            `json:"payment_method"`
	Description     string            `json:"description,omitempty"`
	ReturnURL       string            `json:"return_url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PaymentIntent is the processor's view of a charge attempt.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// ConnectedAccount is the processor-side account funds are paid out from.
type ConnectedAccount struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// AccountLink is a one-time onboarding URL for a connected account.
type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// PaymentMethod is the processor's masked view of a payout instrument. Full
// instrument data never reaches this service.
type PaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Brand    string `json:"brand,omitempty"`
	BankName string `json:"bank_name,omitempty"`
	Last4    string `json:"last4"`
	Status   string `json:"status"`
}

// Transfer is the processor's record of a payout to an external destination.
type Transfer struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Refund is the processor's record of a full or partial charge reversal.
type Refund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// ErrorBody is the error payload the processor returns on non-2xx responses.
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error from the processor API.
type ErrorResponse struct {
	StatusCode int       `json:"-"`
	ErrorBody  ErrorBody `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Message != "" {
		return fmt.Sprintf("processor api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Message)
	}
	return fmt.Sprintf("processor api error (status %d)", e.StatusCode)
}

// CreatePaymentIntent creates and confirms a charge against the client's
// stored payment method. The returned intent carries the client_secret the
// frontend needs for any additional authentication step.
func (c *Client) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", params, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntent re-queries the authoritative status of a charge.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(intentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateConnectedAccount provisions a processor-side account for a payee.
func (c *Client) CreateConnectedAccount(ctx context.Context, accountType string) (*ConnectedAccount, error) {
	payload := map[string]string{"type": accountType}
	var account ConnectedAccount
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", payload, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetConnectedAccount fetches onboarding/capability state for an account.
func (c *Client) GetConnectedAccount(ctx context.Context, accountID string) (*ConnectedAccount, error) {
	var account ConnectedAccount
	path := "/v1/accounts/" + url.PathEscape(accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccountLink requests a fresh onboarding URL for a connected account.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, returnURL, refreshURL string) (*AccountLink, error) {
	payload := map[string]string{
		"account":     accountID,
		"return_url":  returnURL,
		"refresh_url": refreshURL,
		"type":        "account_onboarding",
	}
	var link AccountLink
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", payload, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// GetPaymentMethod validates a payout instrument and returns its masked details.
func (c *Client) GetPaymentMethod(ctx context.Context, methodID string) (*PaymentMethod, error) {
	var method PaymentMethod
	path := "/v1/payment_methods/" + url.PathEscape(methodID)
	if err := c.do(ctx, http.MethodGet, path, nil, &method); err != nil {
		return nil, err
	}
	return &method, nil
}

// CreateTransfer moves funds from the platform to an external payout
// destination on a connected account.
func (c *Client) CreateTransfer(ctx context.Context, accountID, destinationID string, amount int64, currency, description string) (*Transfer, error) {
	payload := map[string]interface{}{
		"account":     accountID,
		"destination": destinationID,
		"amount":      amount,
		"currency":    currency,
		"description": description,
	}
	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", payload, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// CreateRefund reverses a charge, fully or partially, back to the payer.
func (c *Client) CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (*Refund, error) {
	payload := map[string]interface{}{
		"payment_intent": intentID,
		"amount":         amount,
		"reason":         reason,
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", payload, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// do is a generic helper to execute authenticated processor requests.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal processor request: %w", err)
		}
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create processor request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute processor request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read processor response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=processor_client method=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
			return fmt.Errorf("processor returned status %d", resp.StatusCode)
		}
		log.Printf("level=warn component=processor_client method=%s path=%s status=%d code=%q msg=%q", method, path, resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Message)
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode processor response: %w", err)
		}
	}
	return nil
}
