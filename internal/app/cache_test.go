package app

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/gigvault/escrow-service/internal/domain"
)

// The service runs without Redis; every cache method must be a safe no-op on a
// nil cache so operations that write through or invalidate never crash.
func TestEntityCache_NilCacheIsANoOp(t *testing.T) {
	var cache *EntityCache
	ctx := context.Background()
	userID := uuid.New()
	paymentID := uuid.New()

	cache.SetAccount(ctx, &domain.EscrowAccount{ID: uuid.New(), UserID: userID})
	cache.DeleteAccount(ctx, userID)
	cache.SetPayment(ctx, &domain.Payment{ID: paymentID})
	cache.DeletePayment(ctx, paymentID)
	cache.BumpHistory(ctx, userID)
	cache.SetHistoryPage(ctx, userID, domain.PaymentHistoryOptions{Page: 1, Limit: 20}, &domain.PaymentHistoryPage{})

	if _, ok := cache.GetAccount(ctx, userID); ok {
		t.Fatal("nil cache must always miss on account reads")
	}
	if _, ok := cache.GetPayment(ctx, paymentID); ok {
		t.Fatal("nil cache must always miss on payment reads")
	}
	if _, ok := cache.GetHistoryPage(ctx, userID, domain.PaymentHistoryOptions{Page: 1, Limit: 20}); ok {
		t.Fatal("nil cache must always miss on history reads")
	}
}

func TestEntityCache_DisabledClientIsANoOp(t *testing.T) {
	cache := NewEntityCache(nil, "escrow:cache", 0)
	ctx := context.Background()
	userID := uuid.New()

	cache.SetAccount(ctx, &domain.EscrowAccount{ID: uuid.New(), UserID: userID})
	cache.DeleteAccount(ctx, userID)
	cache.BumpHistory(ctx, userID)

	if _, ok := cache.GetAccount(ctx, userID); ok {
		t.Fatal("cache without a client must always miss")
	}
}
