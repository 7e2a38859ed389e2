package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/processorclient"
)

// processorStub implements ProcessorClient with overridable behavior per call.
type processorStub struct {
	createIntentFn   func(ctx context.Context, params processorclient.CreatePaymentIntentParams) (*processorclient.PaymentIntent, error)
	getIntentFn      func(ctx context.Context, intentID string) (*processorclient.PaymentIntent, error)
	createAccountFn  func(ctx context.Context, accountType string) (*processorclient.ConnectedAccount, error)
	getAccountFn     func(ctx context.Context, accountID string) (*processorclient.ConnectedAccount, error)
	accountLinkFn    func(ctx context.Context, accountID, returnURL, refreshURL string) (*processorclient.AccountLink, error)
	getMethodFn      func(ctx context.Context, methodID string) (*processorclient.PaymentMethod, error)
	createTransferFn func(ctx context.Context, accountID, destinationID string, amount int64, currency, description string) (*processorclient.Transfer, error)
	createRefundFn   func(ctx context.Context, intentID string, amount int64, reason string) (*processorclient.Refund, error)
}

func (p *processorStub) CreatePaymentIntent(ctx context.Context, params processorclient.CreatePaymentIntentParams) (*processorclient.PaymentIntent, error) {
	if p.createIntentFn != nil {
		return p.createIntentFn(ctx, params)
	}
	return &processorclient.PaymentIntent{ID: "pi_test", Status: processorclient.IntentStatusProcessing, Amount: params.Amount, ClientSecret: "pi_test_secret"}, nil
}

func (p *processorStub) GetPaymentIntent(ctx context.Context, intentID string) (*processorclient.PaymentIntent, error) {
	if p.getIntentFn != nil {
		return p.getIntentFn(ctx, intentID)
	}
	return &processorclient.PaymentIntent{ID: intentID, Status: processorclient.IntentStatusSucceeded}, nil
}

func (p *processorStub) CreateConnectedAccount(ctx context.Context, accountType string) (*processorclient.ConnectedAccount, error) {
	if p.createAccountFn != nil {
		return p.createAccountFn(ctx, accountType)
	}
	return &processorclient.ConnectedAccount{ID: "acct_test", Type: accountType}, nil
}

func (p *processorStub) GetConnectedAccount(ctx context.Context, accountID string) (*processorclient.ConnectedAccount, error) {
	if p.getAccountFn != nil {
		return p.getAccountFn(ctx, accountID)
	}
	return &processorclient.ConnectedAccount{ID: accountID, DetailsSubmitted: true, PayoutsEnabled: true}, nil
}

func (p *processorStub) CreateAccountLink(ctx context.Context, accountID, returnURL, refreshURL string) (*processorclient.AccountLink, error) {
	if p.accountLinkFn != nil {
		return p.accountLinkFn(ctx, accountID, returnURL, refreshURL)
	}
	return &processorclient.AccountLink{URL: "https://onboarding.test/" + accountID}, nil
}

func (p *processorStub) GetPaymentMethod(ctx context.Context, methodID string) (*processorclient.PaymentMethod, error) {
	if p.getMethodFn != nil {
		return p.getMethodFn(ctx, methodID)
	}
	return &processorclient.PaymentMethod{ID: methodID, Type: "card", Brand: "visa", Last4: "4242", Status: "active"}, nil
}

func (p *processorStub) CreateTransfer(ctx context.Context, accountID, destinationID string, amount int64, currency, description string) (*processorclient.Transfer, error) {
	if p.createTransferFn != nil {
		return p.createTransferFn(ctx, accountID, destinationID, amount, currency, description)
	}
	return &processorclient.Transfer{ID: "tr_test", Status: "pending", Amount: amount}, nil
}

func (p *processorStub) CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (*processorclient.Refund, error) {
	if p.createRefundFn != nil {
		return p.createRefundFn(ctx, intentID, amount, reason)
	}
	return &processorclient.Refund{ID: "re_test", Status: "succeeded", Amount: amount}, nil
}

func processorRejection(code, message string) error {
	return &processorclient.ErrorResponse{
		StatusCode: 402,
		ErrorBody: processorclient.ErrorBody{
			Type:    "card_error",
			Code:    code,
			Message: message,
		},
	}
}

type intentRepoStub struct {
	store.Repository

	contract  *domain.Contract
	milestone *domain.Milestone

	createPaymentErr error
	createdPayment   *domain.Payment

	transitionResults map[string]bool
	transitions       []string

	failedPaymentID uuid.UUID
	failureReason   string

	processingIntentID string
}

func transitionKey(from, to string) string { return from + "->" + to }

func (s *intentRepoStub) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	if s.contract == nil || s.contract.ID != contractID {
		return nil, store.ErrContractNotFound
	}
	return s.contract, nil
}

func (s *intentRepoStub) FindMilestoneByID(ctx context.Context, milestoneID uuid.UUID) (*domain.Milestone, error) {
	if s.milestone == nil || s.milestone.ID != milestoneID {
		return nil, store.ErrMilestoneNotFound
	}
	return s.milestone, nil
}

func (s *intentRepoStub) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	if s.createPaymentErr != nil {
		return s.createPaymentErr
	}
	s.createdPayment = payment
	return nil
}

func (s *intentRepoStub) TransitionMilestoneStatus(ctx context.Context, milestoneID uuid.UUID, fromStatus, toStatus string) (bool, error) {
	key := transitionKey(fromStatus, toStatus)
	s.transitions = append(s.transitions, key)
	if result, ok := s.transitionResults[key]; ok {
		return result, nil
	}
	return true, nil
}

func (s *intentRepoStub) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, failureReason string) error {
	s.failedPaymentID = paymentID
	s.failureReason = failureReason
	return nil
}

func (s *intentRepoStub) SetPaymentProcessing(ctx context.Context, paymentID uuid.UUID, externalIntentID string) error {
	s.processingIntentID = externalIntentID
	return nil
}

func newIntentFixture() (*intentRepoStub, uuid.UUID) {
	clientID := uuid.New()
	contractID := uuid.New()
	milestoneID := uuid.New()
	repo := &intentRepoStub{
		contract: &domain.Contract{
			ID:           contractID,
			ClientID:     clientID,
			FreelancerID: uuid.New(),
			TotalAmount:  100000,
			Currency:     "usd",
			Status:       "active",
		},
		milestone: &domain.Milestone{
			ID:         milestoneID,
			ContractID: contractID,
			Title:      "Design handoff",
			Amount:     50000,
			Status:     domain.MilestoneStatusApproved,
		},
	}
	return repo, clientID
}

func TestCreatePaymentIntent_Succeeds(t *testing.T) {
	repo, clientID := newIntentFixture()
	svc := NewService(repo, &processorStub{}, nil, Options{PlatformFeePercent: 10})

	payment, intent, err := svc.CreatePaymentIntent(context.Background(), clientID, domain.CreatePaymentIntentRequest{
		ContractID:      repo.contract.ID,
		MilestoneID:     repo.milestone.ID,
		Amount:          50000,
		PaymentMethodID: "pm_card",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if payment.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected payment status processing, got %q", payment.Status)
	}
	if payment.PlatformFee != 5000 || payment.FreelancerAmount != 45000 {
		t.Fatalf("unexpected fee split: fee=%d freelancer=%d", payment.PlatformFee, payment.FreelancerAmount)
	}
	if payment.FreelancerAmount+payment.PlatformFee != payment.Amount {
		t.Fatal("fee split does not sum to the gross amount")
	}
	if intent.ClientSecret == "" {
		t.Fatal("expected client secret for the payment sheet")
	}
	if repo.processingIntentID != intent.ID {
		t.Fatalf("expected external intent id %q recorded, got %q", intent.ID, repo.processingIntentID)
	}
	if len(repo.transitions) != 1 || repo.transitions[0] != transitionKey(domain.MilestoneStatusApproved, domain.MilestoneStatusPaymentPending) {
		t.Fatalf("expected milestone moved to payment_pending, got %v", repo.transitions)
	}
}

func TestCreatePaymentIntent_Guards(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(repo *intentRepoStub, req *domain.CreatePaymentIntentRequest, caller *uuid.UUID)
		wantErr error
	}{
		{
			name: "zero amount",
			mutate: func(_ *intentRepoStub, req *domain.CreatePaymentIntentRequest, _ *uuid.UUID) {
				req.Amount = 0
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "caller is not the contract client",
			mutate: func(_ *intentRepoStub, _ *domain.CreatePaymentIntentRequest, caller *uuid.UUID) {
				*caller = uuid.New()
			},
			wantErr: ErrNotContractClient,
		},
		{
			name: "milestone belongs to another contract",
			mutate: func(repo *intentRepoStub, _ *domain.CreatePaymentIntentRequest, _ *uuid.UUID) {
				repo.milestone.ContractID = uuid.New()
			},
			wantErr: ErrMilestoneMismatch,
		},
		{
			name: "milestone not approved",
			mutate: func(repo *intentRepoStub, _ *domain.CreatePaymentIntentRequest, _ *uuid.UUID) {
				repo.milestone.Status = domain.MilestoneStatusPaid
			},
			wantErr: ErrMilestoneNotApproved,
		},
		{
			name: "amount does not match milestone",
			mutate: func(_ *intentRepoStub, req *domain.CreatePaymentIntentRequest, _ *uuid.UUID) {
				req.Amount = 49999
			},
			wantErr: ErrAmountMismatch,
		},
		{
			name: "duplicate charge for the milestone",
			mutate: func(repo *intentRepoStub, _ *domain.CreatePaymentIntentRequest, _ *uuid.UUID) {
				repo.createPaymentErr = store.ErrDuplicateMilestonePayment
			},
			wantErr: store.ErrDuplicateMilestonePayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, clientID := newIntentFixture()
			caller := clientID
			req := domain.CreatePaymentIntentRequest{
				ContractID:      repo.contract.ID,
				MilestoneID:     repo.milestone.ID,
				Amount:          repo.milestone.Amount,
				PaymentMethodID: "pm_card",
			}
			tt.mutate(repo, &req, &caller)

			svc := NewService(repo, &processorStub{}, nil, Options{PlatformFeePercent: 10})
			_, _, err := svc.CreatePaymentIntent(context.Background(), caller, req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreatePaymentIntent_LostMilestoneRaceFailsPayment(t *testing.T) {
	repo, clientID := newIntentFixture()
	repo.transitionResults = map[string]bool{
		transitionKey(domain.MilestoneStatusApproved, domain.MilestoneStatusPaymentPending): false,
	}
	svc := NewService(repo, &processorStub{}, nil, Options{PlatformFeePercent: 10})

	_, _, err := svc.CreatePaymentIntent(context.Background(), clientID, domain.CreatePaymentIntentRequest{
		ContractID:      repo.contract.ID,
		MilestoneID:     repo.milestone.ID,
		Amount:          repo.milestone.Amount,
		PaymentMethodID: "pm_card",
	})
	if !errors.Is(err, ErrMilestoneNotApproved) {
		t.Fatalf("expected ErrMilestoneNotApproved, got %v", err)
	}
	if repo.createdPayment == nil || repo.failedPaymentID != repo.createdPayment.ID {
		t.Fatal("expected the racing payment to be marked failed")
	}
}

func TestCreatePaymentIntent_DefinitiveRejectionCompensates(t *testing.T) {
	repo, clientID := newIntentFixture()
	processor := &processorStub{
		createIntentFn: func(ctx context.Context, params processorclient.CreatePaymentIntentParams) (*processorclient.PaymentIntent, error) {
			return nil, processorRejection("card_declined", "Your card was declined.")
		},
	}
	svc := NewService(repo, processor, nil, Options{PlatformFeePercent: 10})

	_, _, err := svc.CreatePaymentIntent(context.Background(), clientID, domain.CreatePaymentIntentRequest{
		ContractID:      repo.contract.ID,
		MilestoneID:     repo.milestone.ID,
		Amount:          repo.milestone.Amount,
		PaymentMethodID: "pm_card",
	})
	if err == nil {
		t.Fatal("expected an error from the rejected intent")
	}
	if repo.createdPayment == nil || repo.failedPaymentID != repo.createdPayment.ID {
		t.Fatal("expected payment marked failed after definitive rejection")
	}
	revert := transitionKey(domain.MilestoneStatusPaymentPending, domain.MilestoneStatusApproved)
	if len(repo.transitions) != 2 || repo.transitions[1] != revert {
		t.Fatalf("expected milestone reverted to approved, got %v", repo.transitions)
	}
}

func TestCreatePaymentIntent_AmbiguousFailureLeavesStateForReconciliation(t *testing.T) {
	repo, clientID := newIntentFixture()
	processor := &processorStub{
		createIntentFn: func(ctx context.Context, params processorclient.CreatePaymentIntentParams) (*processorclient.PaymentIntent, error) {
			return nil, errors.New("connection reset by peer")
		},
	}
	svc := NewService(repo, processor, nil, Options{PlatformFeePercent: 10})

	_, _, err := svc.CreatePaymentIntent(context.Background(), clientID, domain.CreatePaymentIntentRequest{
		ContractID:      repo.contract.ID,
		MilestoneID:     repo.milestone.ID,
		Amount:          repo.milestone.Amount,
		PaymentMethodID: "pm_card",
	})
	if err == nil {
		t.Fatal("expected an error from the transport failure")
	}
	if repo.failedPaymentID != uuid.Nil {
		t.Fatal("ambiguous failure must not mark the payment failed")
	}
	if len(repo.transitions) != 1 {
		t.Fatalf("ambiguous failure must not revert the milestone, got %v", repo.transitions)
	}
}
