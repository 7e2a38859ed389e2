/**
 * @description
 * This file implements the RabbitMQ consumer that keeps the escrow-service's
 * contract/milestone read model current. The contract system owns contracts
 * and milestones; it publishes lifecycle events, and this consumer mirrors
 * just the fields the payment flow needs (parties, amounts, approval state).
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
	"github.com/gigvault/escrow-service/internal/store"
)

// ContractEventConsumer mirrors contract-system events into the local read model.
type ContractEventConsumer struct {
	repo store.Repository
}

func NewContractEventConsumer(repo store.Repository) *ContractEventConsumer {
	return &ContractEventConsumer{repo: repo}
}

// HandleContractEvent processes a contract created/updated event. Returning
// true acknowledges the delivery; malformed payloads are acknowledged and
// dropped since re-queueing cannot fix them.
func (c *ContractEventConsumer) HandleContractEvent(body []byte) bool {
	var event domain.ContractEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=contract_consumer msg=\"failed to unmarshal contract event; dropping\" err=%v", err)
		return true
	}
	if event.ContractID == uuid.Nil {
		log.Printf("level=warn component=contract_consumer msg=\"contract event missing id; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	contract := &domain.Contract{
		ID:           event.ContractID,
		ProposalID:   event.ProposalID,
		ClientID:     event.ClientID,
		FreelancerID: event.FreelancerID,
		TotalAmount:  event.TotalAmount,
		Currency:     event.Currency,
		Status:       event.Status,
	}
	if err := c.repo.UpsertContract(ctx, contract); err != nil {
		log.Printf("level=error component=contract_consumer msg=\"contract upsert failed; re-queuing\" contract_id=%s err=%v", event.ContractID, err)
		return false
	}
	return true
}

// HandleMilestoneEvent processes a milestone created/updated/approved event.
// Payment-driven statuses are protected inside the upsert: a replayed
// `approved` event never downgrades a milestone that is already
// payment_pending or paid.
func (c *ContractEventConsumer) HandleMilestoneEvent(body []byte) bool {
	var event domain.MilestoneEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=contract_consumer msg=\"failed to unmarshal milestone event; dropping\" err=%v", err)
		return true
	}
	if event.MilestoneID == uuid.Nil || event.ContractID == uuid.Nil {
		log.Printf("level=warn component=contract_consumer msg=\"milestone event missing ids; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	milestone := &domain.Milestone{
		ID:         event.MilestoneID,
		ContractID: event.ContractID,
		Title:      event.Title,
		Amount:     event.Amount,
		Status:     event.Status,
	}
	if err := c.repo.UpsertMilestone(ctx, milestone); err != nil {
		log.Printf("level=error component=contract_consumer msg=\"milestone upsert failed; re-queuing\" milestone_id=%s err=%v", event.MilestoneID, err)
		return false
	}
	return true
}
