/**
 * @description
 * This file implements the Redis-backed entity cache for the escrow-service.
 * Cached values are keyed by the affected entity ids (account, payment) and
 * invalidated explicitly on mutation; history pages are invalidated by bumping
 * a per-user generation counter, so no pattern-matching deletes are needed.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gigvault/escrow-service/internal/domain"
)

// EntityCache caches escrow accounts, payments and payment history pages in
// Redis. A nil *EntityCache is valid and behaves as a permanent cache miss, so
// callers never need to nil-check.
type EntityCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewEntityCache creates a cache with the given key prefix and entry TTL.
func NewEntityCache(client redis.UniversalClient, prefix string, ttl time.Duration) *EntityCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "escrow:cache"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EntityCache{client: client, prefix: trimmed, ttl: ttl}
}

func (c *EntityCache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *EntityCache) getJSON(ctx context.Context, key string, dest interface{}) bool {
	if !c.enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("level=warn component=entity_cache msg=\"cache read failed\" key=%s err=%v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.Printf("level=warn component=entity_cache msg=\"cache entry unmarshal failed; dropping\" key=%s err=%v", key, err)
		c.client.Del(ctx, key)
		return false
	}
	return true
}

func (c *EntityCache) setJSON(ctx context.Context, key string, value interface{}) {
	if !c.enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("level=warn component=entity_cache msg=\"cache write failed\" key=%s err=%v", key, err)
	}
}

func (c *EntityCache) delete(ctx context.Context, key string) {
	if !c.enabled() {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("level=warn component=entity_cache msg=\"cache delete failed\" key=%s err=%v", key, err)
	}
}

func (c *EntityCache) accountKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s:account:%s", c.prefix, userID)
}

func (c *EntityCache) paymentKey(paymentID uuid.UUID) string {
	return fmt.Sprintf("%s:payment:%s", c.prefix, paymentID)
}

func (c *EntityCache) historyGenKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s:history:%s:gen", c.prefix, userID)
}

// GetAccount returns the cached escrow account for a user, if present.
func (c *EntityCache) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.EscrowAccount, bool) {
	if !c.enabled() {
		return nil, false
	}
	var account domain.EscrowAccount
	if !c.getJSON(ctx, c.accountKey(userID), &account) {
		return nil, false
	}
	return &account, true
}

// SetAccount caches a user's escrow account.
func (c *EntityCache) SetAccount(ctx context.Context, account *domain.EscrowAccount) {
	if !c.enabled() || account == nil {
		return
	}
	c.setJSON(ctx, c.accountKey(account.UserID), account)
}

// DeleteAccount invalidates a user's cached escrow account.
func (c *EntityCache) DeleteAccount(ctx context.Context, userID uuid.UUID) {
	if !c.enabled() {
		return
	}
	c.delete(ctx, c.accountKey(userID))
}

// GetPayment returns a cached payment, if present.
func (c *EntityCache) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, bool) {
	if !c.enabled() {
		return nil, false
	}
	var payment domain.Payment
	if !c.getJSON(ctx, c.paymentKey(paymentID), &payment) {
		return nil, false
	}
	return &payment, true
}

// SetPayment caches a payment.
func (c *EntityCache) SetPayment(ctx context.Context, payment *domain.Payment) {
	if !c.enabled() || payment == nil {
		return
	}
	c.setJSON(ctx, c.paymentKey(payment.ID), payment)
}

// DeletePayment invalidates a cached payment.
func (c *EntityCache) DeletePayment(ctx context.Context, paymentID uuid.UUID) {
	if !c.enabled() {
		return
	}
	c.delete(ctx, c.paymentKey(paymentID))
}

func (c *EntityCache) historyPageKey(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions) (string, bool) {
	gen, err := c.client.Get(ctx, c.historyGenKey(userID)).Int64()
	if err != nil && err != redis.Nil {
		return "", false
	}
	return fmt.Sprintf("%s:history:%s:g%d:p%d:l%d:s%s:t%s",
		c.prefix, userID, gen, opts.Page, opts.Limit, opts.Status, opts.Type), true
}

// GetHistoryPage returns a cached payment history page for the user's current
// history generation, if present.
func (c *EntityCache) GetHistoryPage(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions) (*domain.PaymentHistoryPage, bool) {
	if !c.enabled() {
		return nil, false
	}
	key, ok := c.historyPageKey(ctx, userID, opts)
	if !ok {
		return nil, false
	}
	var page domain.PaymentHistoryPage
	if !c.getJSON(ctx, key, &page) {
		return nil, false
	}
	return &page, true
}

// SetHistoryPage caches one payment history page under the user's current
// history generation.
func (c *EntityCache) SetHistoryPage(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions, page *domain.PaymentHistoryPage) {
	if !c.enabled() || page == nil {
		return
	}
	key, ok := c.historyPageKey(ctx, userID, opts)
	if !ok {
		return
	}
	c.setJSON(ctx, key, page)
}

// BumpHistory invalidates every cached history page for the user by advancing
// the generation counter; old-generation keys expire via their TTL.
func (c *EntityCache) BumpHistory(ctx context.Context, userID uuid.UUID) {
	if !c.enabled() {
		return
	}
	if err := c.client.Incr(ctx, c.historyGenKey(userID)).Err(); err != nil {
		log.Printf("level=warn component=entity_cache msg=\"history generation bump failed\" user_id=%s err=%v", userID, err)
	}
}
