/**
 * @description
 * This file defines the core domain models for the escrow-service: payments,
 * ledger transactions, escrow accounts and payout methods, plus the request and
 * response DTOs used by the API layer.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Payment types.
const (
	PaymentTypeMilestone  = "milestone_payment"
	PaymentTypeWithdrawal = "withdrawal"
)

// Payment statuses. pending -> processing -> {completed, failed}; completed -> refunded.
// failed and refunded are terminal.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// Ledger transaction types.
const (
	TransactionTypeCharge      = "charge"
	TransactionTypeTransfer    = "transfer"     // escrow release credit
	TransactionTypeTransferOut = "transfer_out" // payout debit
	TransactionTypeRefund      = "refund"
)

// Escrow account statuses.
const (
	EscrowAccountStatusPending = "pending"
	EscrowAccountStatusActive  = "active"
)

// Milestone statuses mirrored from the contract system's events. A milestone is
// payable only while `approved`; `payment_pending` marks an in-flight charge and
// `paid` is set only after the processor confirms it.
const (
	MilestoneStatusApproved       = "approved"
	MilestoneStatusPaymentPending = "payment_pending"
	MilestoneStatusPaid           = "paid"
)

// Payment represents one authorization/charge attempt tied to exactly one
// milestone, or a withdrawal of escrow balance. This struct maps directly to
// the `payments` table.
type Payment struct {
	ID                 uuid.UUID  `json:"id"`
	ContractID         *uuid.UUID `json:"contract_id,omitempty"`
	MilestoneID        *uuid.UUID `json:"milestone_id,omitempty"`
	ClientID           *uuid.UUID `json:"client_id,omitempty"`
	FreelancerID       uuid.UUID  `json:"freelancer_id"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Amount             int64      `json:"amount"` // gross, in cents
	PlatformFee        int64      `json:"platform_fee"`
	FreelancerAmount   int64      `json:"freelancer_amount"` // amount - platform_fee
	Currency           string     `json:"currency"`
	ExternalIntentID   *string    `json:"external_intent_id,omitempty"`
	ExternalTransferID *string    `json:"external_transfer_id,omitempty"`
	Description        string     `json:"description"`
	FailureReason      *string    `json:"failure_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CanBeRefunded reports whether a refund may still be issued against this
// payment. Only completed milestone payments inside the refund window qualify;
// a refunded payment can never be refunded again.
func (p *Payment) CanBeRefunded(refundWindow time.Duration, now time.Time) bool {
	if p.Type != PaymentTypeMilestone {
		return false
	}
	if p.Status != PaymentStatusCompleted {
		return false
	}
	if refundWindow > 0 && now.Sub(p.CreatedAt) > refundWindow {
		return false
	}
	return true
}

// Transaction is an immutable ledger entry recording one monetary event.
// Rows are append-only; corrections are recorded as new entries.
type Transaction struct {
	ID                    uuid.UUID  `json:"id"`
	PaymentID             uuid.UUID  `json:"payment_id"`
	Type                  string     `json:"type"`
	Amount                int64      `json:"amount"` // in cents
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	ExternalTransactionID *string    `json:"external_transaction_id,omitempty"`
	Description           string     `json:"description"`
	AccountID             *uuid.UUID `json:"account_id,omitempty"` // escrow account credited/debited, for transfer rows
	CreatedAt             time.Time  `json:"created_at"`
}

// EscrowAccount is the platform-held balance for one user who can receive
// funds. `balance` is the amount available for payout, in cents.
type EscrowAccount struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	Status            string    `json:"status"`
	Balance           int64     `json:"balance"`
	Currency          string    `json:"currency"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PayoutMethod is an external payout destination attached to an escrow
// account. Only masked display details are ever stored.
type PayoutMethod struct {
	ID               uuid.UUID `json:"id"`
	AccountID        uuid.UUID `json:"account_id"`
	Type             string    `json:"type"` // e.g. 'bank_account', 'card'
	ExternalMethodID string    `json:"external_method_id"`
	Brand            string    `json:"brand,omitempty"`
	Last4            string    `json:"last4"`
	IsDefault        bool      `json:"is_default"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Contract is a local read model of the contract system's contracts, kept
// current by consuming contract lifecycle events. The escrow-service never
// mutates contract terms; it only reads them for authorization and
// reconciliation.
type Contract struct {
	ID           uuid.UUID  `json:"id"`
	ProposalID   *uuid.UUID `json:"proposal_id,omitempty"`
	ClientID     uuid.UUID  `json:"client_id"`
	FreelancerID uuid.UUID  `json:"freelancer_id"`
	TotalAmount  int64      `json:"total_amount"` // in cents
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Milestone is a local read model of a contract sub-deliverable. Its status is
// advanced by the payment lifecycle (payment_pending, paid) and by contract
// system events (approved).
type Milestone struct {
	ID         uuid.UUID `json:"id"`
	ContractID uuid.UUID `json:"contract_id"`
	Title      string    `json:"title"`
	Amount     int64     `json:"amount"` // in cents
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ComputePlatformFee returns the platform's cut of a gross amount, rounded to
// the nearest cent. The remainder is the freelancer amount, so the split
// always satisfies freelancerAmount + platformFee == amount.
func ComputePlatformFee(amount int64, feePercent float64) int64 {
	if amount <= 0 || feePercent <= 0 {
		return 0
	}
	fee := int64(math.Round(float64(amount) * feePercent / 100.0))
	if fee > amount {
		fee = amount
	}
	return fee
}

// CreatePaymentIntentRequest is the DTO for initiating a milestone charge.
type CreatePaymentIntentRequest struct {
	ContractID      uuid.UUID `json:"contractId"`
	MilestoneID     uuid.UUID `json:"milestoneId"`
	Amount          int64     `json:"amount"` // in cents
	PaymentMethodID string    `json:"paymentMethodId"`
}

// CreateEscrowAccountRequest is the DTO for starting payout onboarding.
type CreateEscrowAccountRequest struct {
	AccountType string `json:"accountType"`
}

// AddPayoutMethodRequest is the DTO for attaching a payout destination.
type AddPayoutMethodRequest struct {
	Type                    string `json:"type"`
	ExternalPaymentMethodID string `json:"externalPaymentMethodId"`
	IsDefault               bool   `json:"isDefault"`
}

// PayoutRequest is the DTO for withdrawing available escrow balance.
type PayoutRequest struct {
	Amount         int64     `json:"amount"` // in cents
	PayoutMethodID uuid.UUID `json:"payoutMethodId"`
}

// RefundRequest is the DTO for reversing a completed payment. A nil Amount
// refunds the full payment amount.
type RefundRequest struct {
	Reason string `json:"reason"`
	Amount *int64 `json:"amount,omitempty"`
}

// PaymentHistoryOptions controls pagination and filtering of payment history.
type PaymentHistoryOptions struct {
	Page   int
	Limit  int
	Status string
	Type   string
}

// PaymentHistoryPage is one page of a user's payment history, with the total
// row count for pagination.
type PaymentHistoryPage struct {
	Payments []Payment `json:"payments"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}
