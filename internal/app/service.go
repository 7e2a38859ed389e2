/**
 * @description
 * This file contains the core business logic for the escrow-service. The `Service`
 * struct orchestrates all money movement operations, coordinating between the database
 * repository, the payment processor client, and the message broker.
 *
 * Key features:
 * - Drives the milestone payment lifecycle: intent creation, processor
 *   confirmation, escrow release, payout and refund.
 * - Keeps monetary invariants: fee split always sums to the gross amount,
 *   balances never go negative, escrow is released at most once per payment.
 * - Leaves payments in `processing` when the processor is unreachable, so the
 *   ledger can be reconciled later instead of guessing an outcome.
 * - Publishes notification events to RabbitMQ for asynchronous processing by
 *   other services; delivery is fire-and-forget.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/processorclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/processorclient"
	"github.com/gigvault/escrow-service/pkg/rabbitmq"
)

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrAmountMismatch       = errors.New("amount does not match the milestone amount")
	ErrMilestoneNotApproved = errors.New("milestone is not approved for payment")
	ErrMilestoneMismatch    = errors.New("milestone does not belong to the contract")
	ErrNotContractClient    = errors.New("requester is not the contract's client")
	ErrNotAuthorized        = errors.New("requester is not permitted to perform this operation")
	ErrAccountNotActive     = errors.New("escrow account has not completed onboarding")
	ErrPayoutMethodInactive = errors.New("payout method is not active")
	ErrPaymentNotCompleted  = errors.New("payment is not in completed status")
	ErrPaymentNotReleasable = errors.New("only milestone payments hold releasable escrow")
	ErrPaymentNotRefundable = errors.New("payment cannot be refunded")
	ErrRefundWindowExpired  = errors.New("payment is outside the refund window")
	ErrRefundTooLarge       = errors.New("refund amount exceeds the payment amount")
)

// Caller roles carried by the auth middleware. Permission checks proper are
// enforced upstream; the role here only distinguishes admin overrides.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// ProcessorClient is the subset of the payment processor API the service
// depends on. The concrete implementation lives in pkg/processorclient.
type ProcessorClient interface {
	CreatePaymentIntent(ctx context.Context, params processorclient.CreatePaymentIntentParams) (*processorclient.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*processorclient.PaymentIntent, error)
	CreateConnectedAccount(ctx context.Context, accountType string) (*processorclient.ConnectedAccount, error)
	GetConnectedAccount(ctx context.Context, accountID string) (*processorclient.ConnectedAccount, error)
	CreateAccountLink(ctx context.Context, accountID, returnURL, refreshURL string) (*processorclient.AccountLink, error)
	GetPaymentMethod(ctx context.Context, methodID string) (*processorclient.PaymentMethod, error)
	CreateTransfer(ctx context.Context, accountID, destinationID string, amount int64, currency, description string) (*processorclient.Transfer, error)
	CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (*processorclient.Refund, error)
}

// Options carries the business configuration the service needs.
type Options struct {
	PlatformFeePercent float64
	DefaultCurrency    string
	EventExchange      string
	PaymentReturnURL   string
	OnboardingReturn   string
	OnboardingRefresh  string
	RefundWindow       time.Duration
}

// Service provides the core business logic for escrow payments and payouts.
type Service struct {
	repo          store.Repository
	processor     ProcessorClient
	eventProducer rabbitmq.Publisher
	cache         *EntityCache
	opts          Options
}

// NewService creates a new escrow service instance.
func NewService(repo store.Repository, processor ProcessorClient, producer rabbitmq.Publisher, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "usd"
	}
	if opts.EventExchange == "" {
		opts.EventExchange = "gigvault.events"
	}
	return &Service{
		repo:          repo,
		processor:     processor,
		eventProducer: producer,
		opts:          opts,
	}
}

// SetCache attaches the Redis-backed entity cache. The service works without
// one; reads just always hit the database.
func (s *Service) SetCache(cache *EntityCache) {
	s.cache = cache
}

// findAccount is the cached read path for escrow accounts. The cached copy is
// only a read optimization: every balance-changing operation re-checks the
// authoritative balance inside its conditional SQL update.
func (s *Service) findAccount(ctx context.Context, userID uuid.UUID) (*domain.EscrowAccount, error) {
	if account, ok := s.cache.GetAccount(ctx, userID); ok {
		return account, nil
	}
	account, err := s.repo.FindEscrowAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.SetAccount(ctx, account)
	return account, nil
}

// isDefinitiveProcessorRejection reports whether the processor actively
// rejected the call, as opposed to a transport failure or timeout where the
// outcome is unknown and local state must be left recoverable.
func isDefinitiveProcessorRejection(err error) bool {
	var procErr *processorclient.ErrorResponse
	return errors.As(err, &procErr)
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.opts.EventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=escrow_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) paymentEvent(p *domain.Payment, reason string) domain.PaymentEvent {
	return domain.PaymentEvent{
		PaymentID:    p.ID,
		ContractID:   p.ContractID,
		MilestoneID:  p.MilestoneID,
		ClientID:     p.ClientID,
		FreelancerID: p.FreelancerID,
		Type:         p.Type,
		Status:       p.Status,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	}
}

// CreatePaymentIntent authorizes a charge for an approved milestone. It
// persists a pending payment, creates the processor intent, and moves the
// payment to processing. The milestone is marked payment_pending here and
// only flips to paid once the processor confirms the charge.
func (s *Service) CreatePaymentIntent(ctx context.Context, clientID uuid.UUID, req domain.CreatePaymentIntentRequest) (*domain.Payment, *processorclient.PaymentIntent, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	contract, err := s.repo.FindContractByID(ctx, req.ContractID)
	if err != nil {
		return nil, nil, err
	}
	if contract.ClientID != clientID {
		return nil, nil, ErrNotContractClient
	}

	milestone, err := s.repo.FindMilestoneByID(ctx, req.MilestoneID)
	if err != nil {
		return nil, nil, err
	}
	if milestone.ContractID != contract.ID {
		return nil, nil, ErrMilestoneMismatch
	}
	if milestone.Status != domain.MilestoneStatusApproved {
		return nil, nil, ErrMilestoneNotApproved
	}
	if req.Amount != milestone.Amount {
		return nil, nil, ErrAmountMismatch
	}

	fee := domain.ComputePlatformFee(req.Amount, s.opts.PlatformFeePercent)
	currency := contract.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		ContractID:       &contract.ID,
		MilestoneID:      &milestone.ID,
		ClientID:         &contract.ClientID,
		FreelancerID:     contract.FreelancerID,
		Type:             domain.PaymentTypeMilestone,
		Status:           domain.PaymentStatusPending,
		Amount:           req.Amount,
		PlatformFee:      fee,
		FreelancerAmount: req.Amount - fee,
		Currency:         currency,
		Description:      fmt.Sprintf("Milestone payment: %s", milestone.Title),
	}

	// The partial unique index over (contract, milestone) for non-terminal
	// payments rejects a concurrent duplicate charge here.
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, nil, err
	}

	moved, err := s.repo.TransitionMilestoneStatus(ctx, milestone.ID, domain.MilestoneStatusApproved, domain.MilestoneStatusPaymentPending)
	if err != nil {
		return nil, nil, err
	}
	if !moved {
		// Lost a race with another charge attempt for the same milestone.
		if failErr := s.repo.MarkPaymentFailed(ctx, payment.ID, "milestone no longer approved"); failErr != nil {
			log.Printf("level=error component=escrow_service op=create_intent msg=\"failed to mark racing payment failed\" payment_id=%s err=%v", payment.ID, failErr)
		}
		return nil, nil, ErrMilestoneNotApproved
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, processorclient.CreatePaymentIntentParams{
		Amount:          payment.Amount,
		Currency:        currency,
		PaymentMethodID: req.PaymentMethodID,
		Description:     payment.Description,
		ReturnURL:       s.opts.PaymentReturnURL,
		Metadata: map[string]string{
			"payment_id":   payment.ID.String(),
			"contract_id":  contract.ID.String(),
			"milestone_id": milestone.ID.String(),
		},
	})
	if err != nil {
		if isDefinitiveProcessorRejection(err) {
			// No charge was created; compensate fully.
			if failErr := s.repo.MarkPaymentFailed(ctx, payment.ID, err.Error()); failErr != nil {
				log.Printf("level=error component=escrow_service op=create_intent msg=\"failed to mark payment failed\" payment_id=%s err=%v", payment.ID, failErr)
			}
			if _, revertErr := s.repo.TransitionMilestoneStatus(ctx, milestone.ID, domain.MilestoneStatusPaymentPending, domain.MilestoneStatusApproved); revertErr != nil {
				log.Printf("level=error component=escrow_service op=create_intent msg=\"failed to revert milestone\" milestone_id=%s err=%v", milestone.ID, revertErr)
			}
		}
		// On an ambiguous failure the payment stays pending with the milestone
		// payment_pending; the consistency validator surfaces it if it never
		// resolves.
		return nil, nil, fmt.Errorf("processor intent creation failed: %w", err)
	}

	if err := s.repo.SetPaymentProcessing(ctx, payment.ID, intent.ID); err != nil {
		// The charge is in flight at the processor but we could not record its
		// handle. Surface the failure; reconciliation needs that id.
		log.Printf("level=error component=escrow_service op=create_intent msg=\"failed to record external intent id\" payment_id=%s intent_id=%s err=%v", payment.ID, intent.ID, err)
		return nil, nil, fmt.Errorf("failed to record processor intent: %w", err)
	}
	payment.Status = domain.PaymentStatusProcessing
	payment.ExternalIntentID = &intent.ID

	s.invalidatePaymentCaches(ctx, payment)
	return payment, intent, nil
}

// ConfirmPaymentIntent re-queries the processor for the authoritative charge
// status and converges local state. The operation is idempotent: confirming an
// already-completed payment neither duplicates the charge transaction nor
// re-publishes events.
func (s *Service) ConfirmPaymentIntent(ctx context.Context, externalIntentID string) (*domain.Payment, *processorclient.PaymentIntent, error) {
	payment, err := s.repo.FindPaymentByExternalIntentID(ctx, externalIntentID)
	if err != nil {
		return nil, nil, err
	}

	intent, err := s.processor.GetPaymentIntent(ctx, externalIntentID)
	if err != nil {
		return nil, nil, fmt.Errorf("processor status query failed: %w", err)
	}

	switch intent.Status {
	case processorclient.IntentStatusSucceeded:
		changed, err := s.repo.MarkPaymentCompleted(ctx, payment.ID)
		if err != nil {
			return nil, nil, err
		}
		if changed {
			payment.Status = domain.PaymentStatusCompleted
			txn := &domain.Transaction{
				ID:                    uuid.New(),
				PaymentID:             payment.ID,
				Type:                  domain.TransactionTypeCharge,
				Amount:                payment.Amount,
				Currency:              payment.Currency,
				Status:                "completed",
				ExternalTransactionID: &intent.ID,
				Description:           payment.Description,
			}
			if err := s.repo.CreateTransaction(ctx, txn); err != nil && !errors.Is(err, store.ErrDuplicateChargeRecord) {
				return nil, nil, fmt.Errorf("failed to record charge transaction: %w", err)
			}
			if payment.MilestoneID != nil {
				if _, err := s.repo.TransitionMilestoneStatus(ctx, *payment.MilestoneID, domain.MilestoneStatusPaymentPending, domain.MilestoneStatusPaid); err != nil {
					log.Printf("level=error component=escrow_service op=confirm_intent msg=\"failed to mark milestone paid\" milestone_id=%s err=%v", *payment.MilestoneID, err)
				}
				if payment.ContractID != nil {
					s.publish(ctx, "payment.milestone.paid", domain.MilestonePaidEvent{
						ContractID:  *payment.ContractID,
						MilestoneID: *payment.MilestoneID,
						PaymentID:   payment.ID,
						Status:      domain.MilestoneStatusPaid,
						Timestamp:   time.Now().UTC(),
					})
				}
			}
			s.publish(ctx, "payment.completed", s.paymentEvent(payment, ""))
			s.invalidatePaymentCaches(ctx, payment)
		} else {
			// Replay of a confirmation for an already-terminal payment.
			payment, err = s.repo.FindPaymentByID(ctx, payment.ID)
			if err != nil {
				return nil, nil, err
			}
		}

	case processorclient.IntentStatusPaymentFailed:
		if payment.Status == domain.PaymentStatusPending || payment.Status == domain.PaymentStatusProcessing {
			if err := s.repo.MarkPaymentFailed(ctx, payment.ID, "processor reported payment_failed"); err != nil {
				return nil, nil, err
			}
			payment.Status = domain.PaymentStatusFailed
			if payment.MilestoneID != nil {
				if _, err := s.repo.TransitionMilestoneStatus(ctx, *payment.MilestoneID, domain.MilestoneStatusPaymentPending, domain.MilestoneStatusApproved); err != nil {
					log.Printf("level=error component=escrow_service op=confirm_intent msg=\"failed to revert milestone\" milestone_id=%s err=%v", *payment.MilestoneID, err)
				}
			}
			s.publish(ctx, "payment.failed", s.paymentEvent(payment, "processor reported payment_failed"))
			s.invalidatePaymentCaches(ctx, payment)
		}

	default:
		// Charge still in flight at the processor; poll again later.
	}

	return payment, intent, nil
}

// GetPayment returns a single payment; the caller must be one of its parties
// or an admin.
func (s *Service) GetPayment(ctx context.Context, callerID uuid.UUID, callerRole string, paymentID uuid.UUID) (*domain.Payment, error) {
	if payment, ok := s.cache.GetPayment(ctx, paymentID); ok {
		if callerRole != RoleAdmin && !isPaymentParty(payment, callerID) {
			return nil, ErrNotAuthorized
		}
		return payment, nil
	}
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if callerRole != RoleAdmin && !isPaymentParty(payment, callerID) {
		return nil, ErrNotAuthorized
	}
	s.cache.SetPayment(ctx, payment)
	return payment, nil
}

func isPaymentParty(p *domain.Payment, userID uuid.UUID) bool {
	if p.FreelancerID == userID {
		return true
	}
	return p.ClientID != nil && *p.ClientID == userID
}

// ListPaymentHistory returns one page of the caller's payment history, scoped
// to them as client or freelancer.
func (s *Service) ListPaymentHistory(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions) (*domain.PaymentHistoryPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if page, ok := s.cache.GetHistoryPage(ctx, userID, opts); ok {
		return page, nil
	}

	payments, total, err := s.repo.ListPaymentsByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	page := &domain.PaymentHistoryPage{
		Payments: payments,
		Total:    total,
		Page:     opts.Page,
		Limit:    opts.Limit,
	}
	s.cache.SetHistoryPage(ctx, userID, opts, page)
	return page, nil
}

// CreateEscrowAccount provisions the processor-side connected account for a
// payee and returns the onboarding link. One escrow account per user.
func (s *Service) CreateEscrowAccount(ctx context.Context, userID uuid.UUID, accountType string) (*domain.EscrowAccount, string, error) {
	if _, err := s.repo.FindEscrowAccountByUserID(ctx, userID); err == nil {
		return nil, "", store.ErrEscrowAccountExists
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, "", err
	}

	if accountType == "" {
		accountType = "express"
	}
	connected, err := s.processor.CreateConnectedAccount(ctx, accountType)
	if err != nil {
		return nil, "", fmt.Errorf("processor account creation failed: %w", err)
	}

	account := &domain.EscrowAccount{
		ID:                uuid.New(),
		UserID:            userID,
		ExternalAccountID: connected.ID,
		Status:            domain.EscrowAccountStatusPending,
		Balance:           0,
		Currency:          s.opts.DefaultCurrency,
	}
	if err := s.repo.CreateEscrowAccount(ctx, account); err != nil {
		return nil, "", err
	}

	link, err := s.processor.CreateAccountLink(ctx, connected.ID, s.opts.OnboardingReturn, s.opts.OnboardingRefresh)
	if err != nil {
		// The local account exists and is usable once onboarding completes;
		// the client can re-request a link by fetching the account.
		log.Printf("level=warn component=escrow_service op=create_escrow_account msg=\"onboarding link creation failed\" account_id=%s err=%v", account.ID, err)
		return account, "", nil
	}
	return account, link.URL, nil
}

// GetEscrowAccount returns the caller's escrow account together with the
// processor's capability flags. Onboarding completion is detected here, on
// demand: a pending account flips to active once the processor reports
// payouts enabled and details submitted.
func (s *Service) GetEscrowAccount(ctx context.Context, userID uuid.UUID) (*domain.EscrowAccount, *processorclient.ConnectedAccount, error) {
	account, err := s.repo.FindEscrowAccountByUserID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	connected, err := s.processor.GetConnectedAccount(ctx, account.ExternalAccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("processor account query failed: %w", err)
	}

	if account.Status == domain.EscrowAccountStatusPending && connected.DetailsSubmitted && connected.PayoutsEnabled {
		if err := s.repo.ActivateEscrowAccount(ctx, account.ID); err != nil {
			return nil, nil, err
		}
		account.Status = domain.EscrowAccountStatusActive
	}
	s.cache.SetAccount(ctx, account)
	return account, connected, nil
}

// AddPayoutMethod validates a payout instrument with the processor and stores
// only its masked display details. Marking a method default clears the flag on
// every other method of the account inside one database transaction.
func (s *Service) AddPayoutMethod(ctx context.Context, userID uuid.UUID, req domain.AddPayoutMethodRequest) (*domain.PayoutMethod, error) {
	account, err := s.findAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.EscrowAccountStatusActive {
		return nil, ErrAccountNotActive
	}

	external, err := s.processor.GetPaymentMethod(ctx, req.ExternalPaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("processor payout method validation failed: %w", err)
	}

	brand := external.Brand
	if brand == "" {
		brand = external.BankName
	}
	method := &domain.PayoutMethod{
		ID:               uuid.New(),
		AccountID:        account.ID,
		Type:             req.Type,
		ExternalMethodID: external.ID,
		Brand:            brand,
		Last4:            external.Last4,
		IsDefault:        req.IsDefault,
		Status:           "active",
	}
	if err := s.repo.CreatePayoutMethod(ctx, method); err != nil {
		return nil, err
	}
	s.cache.DeleteAccount(ctx, userID)
	return method, nil
}

// ReleaseEscrow moves a completed payment's funds into the freelancer's
// withdrawable balance. The duplicate-release check and the credit happen in
// the same atomic store operation, so a retried release credits exactly once.
func (s *Service) ReleaseEscrow(ctx context.Context, callerID uuid.UUID, callerRole string, paymentID uuid.UUID) (*domain.Payment, int64, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, 0, err
	}
	if payment.Type != domain.PaymentTypeMilestone {
		return nil, 0, ErrPaymentNotReleasable
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, 0, ErrPaymentNotCompleted
	}
	if callerRole != RoleAdmin && (payment.ClientID == nil || *payment.ClientID != callerID) {
		return nil, 0, ErrNotAuthorized
	}

	account, err := s.findAccount(ctx, payment.FreelancerID)
	if err != nil {
		return nil, 0, err
	}

	txn := &domain.Transaction{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		Type:        domain.TransactionTypeTransfer,
		Amount:      payment.FreelancerAmount,
		Currency:    payment.Currency,
		Status:      "completed",
		Description: "Escrow release",
		AccountID:   &account.ID,
	}
	balance, err := s.repo.ReleaseEscrow(ctx, payment.ID, account.ID, payment.FreelancerAmount, txn)
	if err != nil {
		return nil, 0, err
	}

	s.publish(ctx, "escrow.released", s.paymentEvent(payment, ""))
	s.cache.DeleteAccount(ctx, payment.FreelancerID)
	s.invalidatePaymentCaches(ctx, payment)
	return payment, balance, nil
}

// RequestPayout withdraws available escrow balance to an external payout
// method. The balance is debited before the processor call (pessimistic
// debit): concurrent payouts cannot double-spend, and a definitive transfer
// failure reverses the debit and marks the payment failed.
func (s *Service) RequestPayout(ctx context.Context, freelancerID uuid.UUID, req domain.PayoutRequest) (*domain.Payment, *processorclient.Transfer, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	account, err := s.findAccount(ctx, freelancerID)
	if err != nil {
		return nil, nil, err
	}
	if account.Status != domain.EscrowAccountStatusActive {
		return nil, nil, ErrAccountNotActive
	}

	method, err := s.repo.FindPayoutMethodByID(ctx, req.PayoutMethodID, account.ID)
	if err != nil {
		return nil, nil, err
	}
	if method.Status != "active" {
		return nil, nil, ErrPayoutMethodInactive
	}

	if err := s.repo.DebitEscrowBalance(ctx, account.ID, req.Amount); err != nil {
		return nil, nil, err
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		FreelancerID:     freelancerID,
		Type:             domain.PaymentTypeWithdrawal,
		Status:           domain.PaymentStatusProcessing,
		Amount:           req.Amount,
		PlatformFee:      0,
		FreelancerAmount: req.Amount,
		Currency:         account.Currency,
		Description:      "Escrow balance withdrawal",
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		if creditErr := s.repo.CreditEscrowBalance(ctx, account.ID, req.Amount); creditErr != nil {
			log.Printf("level=error component=escrow_service op=request_payout msg=\"CRITICAL: failed to reverse debit after payment creation failure\" account_id=%s amount=%d err=%v", account.ID, req.Amount, creditErr)
		}
		return nil, nil, err
	}

	transfer, err := s.processor.CreateTransfer(ctx, account.ExternalAccountID, method.ExternalMethodID, req.Amount, account.Currency, payment.Description)
	if err != nil {
		if isDefinitiveProcessorRejection(err) {
			if creditErr := s.repo.CreditEscrowBalance(ctx, account.ID, req.Amount); creditErr != nil {
				log.Printf("level=error component=escrow_service op=request_payout msg=\"CRITICAL: failed to reverse debit after transfer rejection\" account_id=%s amount=%d err=%v", account.ID, req.Amount, creditErr)
			}
			if failErr := s.repo.MarkPaymentFailed(ctx, payment.ID, err.Error()); failErr != nil {
				log.Printf("level=error component=escrow_service op=request_payout msg=\"failed to mark payout failed\" payment_id=%s err=%v", payment.ID, failErr)
			}
			s.cache.DeleteAccount(ctx, freelancerID)
			return nil, nil, fmt.Errorf("processor transfer failed: %w", err)
		}
		// Ambiguous outcome: the debit stands and the payment stays in
		// processing until the transfer status can be reconciled.
		return nil, nil, fmt.Errorf("processor transfer outcome unknown: %w", err)
	}

	if err := s.repo.SetPaymentExternalTransferID(ctx, payment.ID, transfer.ID); err != nil {
		log.Printf("level=error component=escrow_service op=request_payout msg=\"failed to record external transfer id\" payment_id=%s transfer_id=%s err=%v", payment.ID, transfer.ID, err)
	}
	payment.ExternalTransferID = &transfer.ID

	txn := &domain.Transaction{
		ID:                    uuid.New(),
		PaymentID:             payment.ID,
		Type:                  domain.TransactionTypeTransferOut,
		Amount:                req.Amount,
		Currency:              account.Currency,
		Status:                transfer.Status,
		ExternalTransactionID: &transfer.ID,
		Description:           payment.Description,
		AccountID:             &account.ID,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		log.Printf("level=error component=escrow_service op=request_payout msg=\"failed to record payout transaction\" payment_id=%s err=%v", payment.ID, err)
	}

	s.publish(ctx, "payout.initiated", s.paymentEvent(payment, ""))
	s.cache.DeleteAccount(ctx, freelancerID)
	s.invalidatePaymentCaches(ctx, payment)
	return payment, transfer, nil
}

// RefundPayment reverses a completed payment, fully or partially, back to the
// client. The completed -> refunded transition is a conditional update, so a
// concurrent or repeated refund attempt loses the race and is rejected.
func (s *Service) RefundPayment(ctx context.Context, callerID uuid.UUID, callerRole string, paymentID uuid.UUID, req domain.RefundRequest) (*domain.Payment, *processorclient.Refund, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if callerRole != RoleAdmin && (payment.ClientID == nil || *payment.ClientID != callerID) {
		return nil, nil, ErrNotAuthorized
	}

	now := time.Now().UTC()
	if payment.Type != domain.PaymentTypeMilestone || payment.Status != domain.PaymentStatusCompleted {
		return nil, nil, ErrPaymentNotRefundable
	}
	if !payment.CanBeRefunded(s.opts.RefundWindow, now) {
		return nil, nil, ErrRefundWindowExpired
	}

	amount := payment.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if amount > payment.Amount {
		return nil, nil, ErrRefundTooLarge
	}
	if payment.ExternalIntentID == nil {
		return nil, nil, ErrPaymentNotRefundable
	}

	refund, err := s.processor.CreateRefund(ctx, *payment.ExternalIntentID, amount, req.Reason)
	if err != nil {
		return nil, nil, fmt.Errorf("processor refund failed: %w", err)
	}

	changed, err := s.repo.MarkPaymentRefunded(ctx, payment.ID)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		// A concurrent refund attempt won the transition; the processor
		// rejects over-refunding a charge, so no money moved twice.
		return nil, nil, ErrPaymentNotRefundable
	}
	payment.Status = domain.PaymentStatusRefunded

	txn := &domain.Transaction{
		ID:                    uuid.New(),
		PaymentID:             payment.ID,
		Type:                  domain.TransactionTypeRefund,
		Amount:                amount,
		Currency:              payment.Currency,
		Status:                refund.Status,
		ExternalTransactionID: &refund.ID,
		Description:           req.Reason,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		log.Printf("level=error component=escrow_service op=refund msg=\"failed to record refund transaction\" payment_id=%s err=%v", payment.ID, err)
	}

	s.publish(ctx, "payment.refunded", s.paymentEvent(payment, req.Reason))
	s.invalidatePaymentCaches(ctx, payment)
	return payment, refund, nil
}

func (s *Service) invalidatePaymentCaches(ctx context.Context, payment *domain.Payment) {
	s.cache.DeletePayment(ctx, payment.ID)
	s.cache.BumpHistory(ctx, payment.FreelancerID)
	if payment.ClientID != nil {
		s.cache.BumpHistory(ctx, *payment.ClientID)
	}
}
