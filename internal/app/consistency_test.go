package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/profileclient"
)

type consistencyRepoStub struct {
	store.Repository

	mismatches []store.MilestoneSumMismatch
	orphans    []domain.Milestone
	imbalances []store.LedgerImbalance
	violations []domain.Payment

	imbalanceErr error
}

func (s *consistencyRepoStub) ListMilestoneSumMismatches(ctx context.Context) ([]store.MilestoneSumMismatch, error) {
	return s.mismatches, nil
}

func (s *consistencyRepoStub) ListOrphanedMilestones(ctx context.Context) ([]domain.Milestone, error) {
	return s.orphans, nil
}

func (s *consistencyRepoStub) ListLedgerImbalances(ctx context.Context) ([]store.LedgerImbalance, error) {
	if s.imbalanceErr != nil {
		return nil, s.imbalanceErr
	}
	return s.imbalances, nil
}

func (s *consistencyRepoStub) ListFeeSplitViolations(ctx context.Context) ([]domain.Payment, error) {
	return s.violations, nil
}

type profileDirectoryStub struct {
	summaries []profileclient.RatingSummary
	listErr   error

	updatedUserID string
	updatedRating float64
	updateErr     error
}

func (s *profileDirectoryStub) ListRatingSummaries(ctx context.Context) ([]profileclient.RatingSummary, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.summaries, nil
}

func (s *profileDirectoryStub) UpdateStoredRating(ctx context.Context, userID string, rating float64, reviewCount int) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updatedUserID = userID
	s.updatedRating = rating
	return nil
}

func TestConsistencyValidator_ReportsAllIssueTypes(t *testing.T) {
	staleUserID := uuid.New()
	repo := &consistencyRepoStub{
		mismatches: []store.MilestoneSumMismatch{
			{ContractID: uuid.New(), ContractTotal: 100000, MilestoneSum: 90000},
		},
		orphans: []domain.Milestone{
			{ID: uuid.New(), ContractID: uuid.New(), Status: domain.MilestoneStatusApproved},
		},
		imbalances: []store.LedgerImbalance{
			{AccountID: uuid.New(), UserID: uuid.New(), StoredBalance: 5000, DerivedBalance: 4000},
		},
		violations: []domain.Payment{
			{ID: uuid.New(), Amount: 1000, PlatformFee: 100, FreelancerAmount: 850},
		},
	}
	profiles := &profileDirectoryStub{
		summaries: []profileclient.RatingSummary{
			{UserID: staleUserID.String(), StoredRating: 4.0, ComputedRating: 4.6, ReviewCount: 12},
			{UserID: uuid.New().String(), StoredRating: 4.5, ComputedRating: 4.5, ReviewCount: 3},
		},
	}

	validator := NewConsistencyValidator(repo, profiles)
	report, err := validator.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(report.ChecksRun) != 5 {
		t.Fatalf("expected 5 checks run, got %v", report.ChecksRun)
	}
	if len(report.Issues) != 5 {
		t.Fatalf("expected 5 issues, got %d", len(report.Issues))
	}

	byType := map[string]domain.ConsistencyIssue{}
	for _, issue := range report.Issues {
		byType[issue.Type] = issue
	}
	rating, ok := byType[domain.IssueStaleRating]
	if !ok || !rating.CanAutoFix || rating.EntityID != staleUserID {
		t.Fatalf("unexpected stale rating issue: %+v", rating)
	}
	for _, issueType := range []string{domain.IssueMilestoneSum, domain.IssueBrokenReference, domain.IssueLedgerImbalance, domain.IssueFeeSplitViolation} {
		issue, ok := byType[issueType]
		if !ok {
			t.Fatalf("missing issue type %s", issueType)
		}
		if issue.CanAutoFix {
			t.Fatalf("%s must never be auto-fixable", issueType)
		}
		if issue.Severity != domain.SeverityCritical {
			t.Fatalf("%s should be critical, got %s", issueType, issue.Severity)
		}
	}
	if report.AutoFixable != 1 {
		t.Fatalf("expected exactly one auto-fixable issue, got %d", report.AutoFixable)
	}
}

func TestConsistencyValidator_FailingCheckIsSkippedNotFatal(t *testing.T) {
	repo := &consistencyRepoStub{imbalanceErr: errors.New("query timeout")}
	profiles := &profileDirectoryStub{}

	validator := NewConsistencyValidator(repo, profiles)
	report, err := validator.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(report.ChecksRun) != 4 {
		t.Fatalf("expected 4 checks run when one fails, got %v", report.ChecksRun)
	}
	for _, name := range report.ChecksRun {
		if name == domain.IssueLedgerImbalance {
			t.Fatal("failed check must not be reported as run")
		}
	}
}

func TestConsistencyValidator_FixRepairsOnlyStaleRatings(t *testing.T) {
	staleUserID := uuid.New()
	repo := &consistencyRepoStub{
		imbalances: []store.LedgerImbalance{
			{AccountID: uuid.New(), UserID: uuid.New(), StoredBalance: 5000, DerivedBalance: 4000},
		},
	}
	profiles := &profileDirectoryStub{
		summaries: []profileclient.RatingSummary{
			{UserID: staleUserID.String(), StoredRating: 3.0, ComputedRating: 4.8, ReviewCount: 25},
		},
	}

	validator := NewConsistencyValidator(repo, profiles)
	report, err := validator.Fix(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if report.Fixed != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected fix counts: fixed=%d skipped=%d failed=%d", report.Fixed, report.Skipped, report.Failed)
	}
	if profiles.updatedUserID != staleUserID.String() {
		t.Fatalf("expected stored rating update for %s, got %q", staleUserID, profiles.updatedUserID)
	}
	if profiles.updatedRating != 4.8 {
		t.Fatalf("expected recomputed rating 4.8 written back, got %f", profiles.updatedRating)
	}
}

func TestConsistencyValidator_MissingProfileClientDisablesRatingCheckOnly(t *testing.T) {
	repo := &consistencyRepoStub{}
	validator := NewConsistencyValidator(repo, nil)

	report, err := validator.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(report.ChecksRun) != 4 {
		t.Fatalf("expected the four repository checks to run, got %v", report.ChecksRun)
	}
}
