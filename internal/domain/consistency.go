/**
 * @description
 * This file defines the typed issue records produced by the consistency
 * validator. Each detected drift between derived totals and stored state is
 * reported as a ConsistencyIssue; only issue types explicitly marked
 * auto-fixable are ever repaired automatically.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Consistency issue types.
const (
	IssueStaleRating       = "stale_rating"
	IssueMilestoneSum      = "milestone_sum_mismatch"
	IssueBrokenReference   = "broken_reference"
	IssueLedgerImbalance   = "ledger_imbalance"
	IssueFeeSplitViolation = "fee_split_violation"
)

// Issue severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ConsistencyIssue is one detected drift between derived and stored state.
type ConsistencyIssue struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Detail     string    `json:"detail"`
	Expected   string    `json:"expected,omitempty"`
	Actual     string    `json:"actual,omitempty"`
	CanAutoFix bool      `json:"can_auto_fix"`
	DetectedAt time.Time `json:"detected_at"`
}

// ConsistencyReport is the result of one validation run.
type ConsistencyReport struct {
	RanAt       time.Time          `json:"ran_at"`
	ChecksRun   []string           `json:"checks_run"`
	Issues      []ConsistencyIssue `json:"issues"`
	AutoFixable int                `json:"auto_fixable"`
}

// FixResult records the outcome of one attempted repair.
type FixResult struct {
	Issue   ConsistencyIssue `json:"issue"`
	Fixed   bool             `json:"fixed"`
	Message string           `json:"message,omitempty"`
}

// FixReport is the result of one repair pass over auto-fixable issues.
type FixReport struct {
	RanAt   time.Time   `json:"ran_at"`
	Results []FixResult `json:"results"`
	Fixed   int         `json:"fixed"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
}
