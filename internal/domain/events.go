/**
 * @description
 * This file defines the event payloads the escrow-service exchanges over
 * RabbitMQ: notifications it publishes on payment lifecycle transitions, and
 * the contract-system events it consumes to keep its contract/milestone read
 * model current.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is published whenever a payment crosses a lifecycle boundary
// (completed, failed, released, refunded). The notification service fans these
// out to the affected client and freelancer; delivery is fire-and-forget.
type PaymentEvent struct {
	PaymentID    uuid.UUID  `json:"payment_id"`
	ContractID   *uuid.UUID `json:"contract_id,omitempty"`
	MilestoneID  *uuid.UUID `json:"milestone_id,omitempty"`
	ClientID     *uuid.UUID `json:"client_id,omitempty"`
	FreelancerID uuid.UUID  `json:"freelancer_id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	Reason       string     `json:"reason,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// MilestonePaidEvent tells the contract system a milestone's payment state
// changed. The contract service owns milestone records; this event lets it
// converge with the authoritative payment outcome.
type MilestonePaidEvent struct {
	ContractID  uuid.UUID `json:"contract_id"`
	MilestoneID uuid.UUID `json:"milestone_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	Status      string    `json:"status"` // payment_pending, paid, approved (reverted)
	Timestamp   time.Time `json:"timestamp"`
}

// ContractEvent is consumed from the contract system whenever a contract is
// created or its terms change. It carries everything the read model stores.
type ContractEvent struct {
	ContractID   uuid.UUID  `json:"contract_id"`
	ProposalID   *uuid.UUID `json:"proposal_id,omitempty"`
	ClientID     uuid.UUID  `json:"client_id"`
	FreelancerID uuid.UUID  `json:"freelancer_id"`
	TotalAmount  int64      `json:"total_amount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
}

// MilestoneEvent is consumed from the contract system whenever a milestone is
// created, updated or approved. An `approved` status makes the milestone
// payable.
type MilestoneEvent struct {
	MilestoneID uuid.UUID `json:"milestone_id"`
	ContractID  uuid.UUID `json:"contract_id"`
	Title       string    `json:"title"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
}
