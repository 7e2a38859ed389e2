/**
 * @description
 * This file implements the admin-only consistency validator. It runs a set of
 * read-only checks comparing derived values against stored state: freelancer
 * rating aggregates vs recomputed review averages, milestone amounts vs
 * contract totals, referential integrity of the payment read model, escrow
 * balances vs their transaction ledgers, and the fee split recorded on each
 * payment.
 *
 * Detection never mutates anything. Repair is a separate, explicit pass and
 * only covers stale ratings; every money-related finding is reported for a
 * human to investigate.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/profileclient"
)

// ratingTolerance absorbs float rounding between the stored aggregate and the
// value recomputed from reviews.
const ratingTolerance = 0.005

// ProfileDirectory is the slice of the profile service the validator needs.
type ProfileDirectory interface {
	ListRatingSummaries(ctx context.Context) ([]profileclient.RatingSummary, error)
	UpdateStoredRating(ctx context.Context, userID string, rating float64, reviewCount int) error
}

// ConsistencyValidator detects and (for stale ratings only) repairs drift
// between stored and derived state.
type ConsistencyValidator struct {
	repo     store.Repository
	profiles ProfileDirectory
}

func NewConsistencyValidator(repo store.Repository, profiles ProfileDirectory) *ConsistencyValidator {
	return &ConsistencyValidator{repo: repo, profiles: profiles}
}

// Validate runs every check and returns the combined report. A check that
// fails to run is logged and skipped; the remaining checks still report.
func (v *ConsistencyValidator) Validate(ctx context.Context) (*domain.ConsistencyReport, error) {
	report := &domain.ConsistencyReport{
		RanAt:  time.Now().UTC(),
		Issues: []domain.ConsistencyIssue{},
	}

	checks := []struct {
		name string
		run  func(context.Context, *domain.ConsistencyReport) error
	}{
		{domain.IssueStaleRating, v.checkStaleRatings},
		{domain.IssueMilestoneSum, v.checkMilestoneSums},
		{domain.IssueBrokenReference, v.checkBrokenReferences},
		{domain.IssueLedgerImbalance, v.checkLedgerBalances},
		{domain.IssueFeeSplitViolation, v.checkFeeSplits},
	}

	for _, check := range checks {
		if err := check.run(ctx, report); err != nil {
			log.Printf("level=error component=consistency_validator msg=\"check failed to run\" check=%s err=%v", check.name, err)
			continue
		}
		report.ChecksRun = append(report.ChecksRun, check.name)
	}

	for _, issue := range report.Issues {
		if issue.CanAutoFix {
			report.AutoFixable++
		}
	}
	return report, nil
}

// Fix re-validates and repairs the auto-fixable issues it finds. Everything
// else is skipped and left in the report for manual review.
func (v *ConsistencyValidator) Fix(ctx context.Context) (*domain.FixReport, error) {
	report, err := v.Validate(ctx)
	if err != nil {
		return nil, err
	}

	fixReport := &domain.FixReport{
		RanAt:   time.Now().UTC(),
		Results: []domain.FixResult{},
	}

	for _, issue := range report.Issues {
		result := domain.FixResult{Issue: issue}
		switch {
		case !issue.CanAutoFix:
			result.Message = "not auto-fixable; manual review required"
			fixReport.Skipped++
		case issue.Type == domain.IssueStaleRating:
			if err := v.fixStaleRating(ctx, issue); err != nil {
				result.Message = err.Error()
				fixReport.Failed++
			} else {
				result.Fixed = true
				fixReport.Fixed++
			}
		default:
			result.Message = "no repair routine for issue type"
			fixReport.Skipped++
		}
		fixReport.Results = append(fixReport.Results, result)
	}

	log.Printf("level=info component=consistency_validator msg=\"fix pass complete\" fixed=%d failed=%d skipped=%d",
		fixReport.Fixed, fixReport.Failed, fixReport.Skipped)
	return fixReport, nil
}

func (v *ConsistencyValidator) checkStaleRatings(ctx context.Context, report *domain.ConsistencyReport) error {
	if v.profiles == nil {
		return fmt.Errorf("profile service client not configured")
	}
	summaries, err := v.profiles.ListRatingSummaries(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, summary := range summaries {
		if math.Abs(summary.StoredRating-summary.ComputedRating) <= ratingTolerance {
			continue
		}
		userID, err := uuid.Parse(summary.UserID)
		if err != nil {
			log.Printf("level=warn component=consistency_validator msg=\"skipping rating summary with bad user id\" user_id=%q", summary.UserID)
			continue
		}
		report.Issues = append(report.Issues, domain.ConsistencyIssue{
			Type:       domain.IssueStaleRating,
			Severity:   domain.SeverityWarning,
			EntityType: "profile",
			EntityID:   userID,
			Detail:     fmt.Sprintf("stored rating diverges from %d reviews", summary.ReviewCount),
			Expected:   fmt.Sprintf("%.2f", summary.ComputedRating),
			Actual:     fmt.Sprintf("%.2f", summary.StoredRating),
			CanAutoFix: true,
			DetectedAt: now,
		})
	}
	return nil
}

func (v *ConsistencyValidator) checkMilestoneSums(ctx context.Context, report *domain.ConsistencyReport) error {
	mismatches, err := v.repo.ListMilestoneSumMismatches(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, m := range mismatches {
		report.Issues = append(report.Issues, domain.ConsistencyIssue{
			Type:       domain.IssueMilestoneSum,
			Severity:   domain.SeverityCritical,
			EntityType: "contract",
			EntityID:   m.ContractID,
			Detail:     "milestone amounts do not sum to contract total",
			Expected:   fmt.Sprintf("%d", m.ContractTotal),
			Actual:     fmt.Sprintf("%d", m.MilestoneSum),
			DetectedAt: now,
		})
	}
	return nil
}

func (v *ConsistencyValidator) checkBrokenReferences(ctx context.Context, report *domain.ConsistencyReport) error {
	orphans, err := v.repo.ListOrphanedMilestones(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, m := range orphans {
		report.Issues = append(report.Issues, domain.ConsistencyIssue{
			Type:       domain.IssueBrokenReference,
			Severity:   domain.SeverityCritical,
			EntityType: "milestone",
			EntityID:   m.ID,
			Detail:     fmt.Sprintf("milestone references contract %s which does not exist", m.ContractID),
			DetectedAt: now,
		})
	}
	return nil
}

func (v *ConsistencyValidator) checkLedgerBalances(ctx context.Context, report *domain.ConsistencyReport) error {
	imbalances, err := v.repo.ListLedgerImbalances(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, imbalance := range imbalances {
		report.Issues = append(report.Issues, domain.ConsistencyIssue{
			Type:       domain.IssueLedgerImbalance,
			Severity:   domain.SeverityCritical,
			EntityType: "escrow_account",
			EntityID:   imbalance.AccountID,
			Detail:     fmt.Sprintf("stored balance disagrees with transaction ledger for user %s", imbalance.UserID),
			Expected:   fmt.Sprintf("%d", imbalance.DerivedBalance),
			Actual:     fmt.Sprintf("%d", imbalance.StoredBalance),
			DetectedAt: now,
		})
	}
	return nil
}

func (v *ConsistencyValidator) checkFeeSplits(ctx context.Context, report *domain.ConsistencyReport) error {
	payments, err := v.repo.ListFeeSplitViolations(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, p := range payments {
		report.Issues = append(report.Issues, domain.ConsistencyIssue{
			Type:       domain.IssueFeeSplitViolation,
			Severity:   domain.SeverityCritical,
			EntityType: "payment",
			EntityID:   p.ID,
			Detail:     "freelancer amount plus platform fee does not equal payment amount",
			Expected:   fmt.Sprintf("%d", p.Amount),
			Actual:     fmt.Sprintf("%d", p.FreelancerAmount+p.PlatformFee),
			DetectedAt: now,
		})
	}
	return nil
}

func (v *ConsistencyValidator) fixStaleRating(ctx context.Context, issue domain.ConsistencyIssue) error {
	summaries, err := v.profiles.ListRatingSummaries(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-read rating summaries: %w", err)
	}
	for _, summary := range summaries {
		if summary.UserID != issue.EntityID.String() {
			continue
		}
		if err := v.profiles.UpdateStoredRating(ctx, summary.UserID, summary.ComputedRating, summary.ReviewCount); err != nil {
			return fmt.Errorf("failed to update stored rating: %w", err)
		}
		return nil
	}
	return fmt.Errorf("rating summary for user %s no longer present", issue.EntityID)
}
