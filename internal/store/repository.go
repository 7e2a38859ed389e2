/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the escrow-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Contract/milestone read model (maintained from contract-system events)
	UpsertContract(ctx context.Context, contract *domain.Contract) error
	UpsertMilestone(ctx context.Context, milestone *domain.Milestone) error
	FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	FindMilestoneByID(ctx context.Context, milestoneID uuid.UUID) (*domain.Milestone, error)
	// TransitionMilestoneStatus updates the milestone only if it currently has
	// fromStatus; it reports whether the transition was applied.
	TransitionMilestoneStatus(ctx context.Context, milestoneID uuid.UUID, fromStatus, toStatus string) (bool, error)

	// Payment methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentByExternalIntentID(ctx context.Context, externalIntentID string) (*domain.Payment, error)
	SetPaymentProcessing(ctx context.Context, paymentID uuid.UUID, externalIntentID string) error
	// MarkPaymentCompleted transitions processing -> completed and reports
	// whether this call performed the transition (false on replay).
	MarkPaymentCompleted(ctx context.Context, paymentID uuid.UUID) (bool, error)
	MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, failureReason string) error
	// MarkPaymentRefunded transitions completed -> refunded and reports whether
	// this call performed the transition.
	MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID) (bool, error)
	SetPaymentExternalTransferID(ctx context.Context, paymentID uuid.UUID, externalTransferID string) error
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions) ([]domain.Payment, int64, error)

	// Ledger transaction methods (append-only)
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	ListTransactionsByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.Transaction, error)

	// Escrow account methods
	CreateEscrowAccount(ctx context.Context, account *domain.EscrowAccount) error
	FindEscrowAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.EscrowAccount, error)
	FindEscrowAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.EscrowAccount, error)
	ActivateEscrowAccount(ctx context.Context, accountID uuid.UUID) error
	// ReleaseEscrow atomically credits the account with the payment's
	// freelancer amount and appends the transfer ledger row in one database
	// transaction. Fails with ErrReleaseAlreadyDone if a transfer row for the
	// payment already exists. Returns the account balance after the credit.
	ReleaseEscrow(ctx context.Context, paymentID, accountID uuid.UUID, amount int64, txn *domain.Transaction) (int64, error)
	// DebitEscrowBalance decrements the balance only if it covers the amount;
	// fails with ErrInsufficientBalance otherwise.
	DebitEscrowBalance(ctx context.Context, accountID uuid.UUID, amount int64) error
	CreditEscrowBalance(ctx context.Context, accountID uuid.UUID, amount int64) error

	// Payout method methods
	CreatePayoutMethod(ctx context.Context, method *domain.PayoutMethod) error
	FindPayoutMethodByID(ctx context.Context, methodID, accountID uuid.UUID) (*domain.PayoutMethod, error)
	ListPayoutMethodsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.PayoutMethod, error)

	// Consistency queries
	ListMilestoneSumMismatches(ctx context.Context) ([]MilestoneSumMismatch, error)
	ListOrphanedMilestones(ctx context.Context) ([]domain.Milestone, error)
	ListLedgerImbalances(ctx context.Context) ([]LedgerImbalance, error)
	ListFeeSplitViolations(ctx context.Context) ([]domain.Payment, error)
}

// MilestoneSumMismatch reports a contract whose milestone amounts do not add
// up to the contract total.
type MilestoneSumMismatch struct {
	ContractID    uuid.UUID
	ContractTotal int64
	MilestoneSum  int64
}

// LedgerImbalance reports an escrow account whose stored balance disagrees
// with the balance derived from its ledger transactions.
type LedgerImbalance struct {
	AccountID      uuid.UUID
	UserID         uuid.UUID
	StoredBalance  int64
	DerivedBalance int64
}
