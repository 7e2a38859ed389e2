package domain

import (
	"testing"
	"time"
)

func TestComputePlatformFee(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		feePercent float64
		want       int64
	}{
		{
			name:       "ten percent of round amount",
			amount:     100000,
			feePercent: 10,
			want:       10000,
		},
		{
			name:       "rounds to nearest cent",
			amount:     333,
			feePercent: 10,
			want:       33,
		},
		{
			name:       "rounds half up",
			amount:     335,
			feePercent: 10,
			want:       34,
		},
		{
			name:       "zero percent keeps full amount for freelancer",
			amount:     100000,
			feePercent: 0,
			want:       0,
		},
		{
			name:       "hundred percent never exceeds amount",
			amount:     999,
			feePercent: 100,
			want:       999,
		},
		{
			name:       "zero amount yields zero fee",
			amount:     0,
			feePercent: 10,
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputePlatformFee(tt.amount, tt.feePercent)
			if got != tt.want {
				t.Fatalf("expected fee=%d, got %d", tt.want, got)
			}
			if remainder := tt.amount - got; remainder+got != tt.amount {
				t.Fatalf("fee split broken: %d + %d != %d", remainder, got, tt.amount)
			}
		})
	}
}

func TestPaymentCanBeRefunded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 90 * 24 * time.Hour

	tests := []struct {
		name    string
		payment Payment
		want    bool
	}{
		{
			name: "completed milestone payment inside window",
			payment: Payment{
				Type:      PaymentTypeMilestone,
				Status:    PaymentStatusCompleted,
				CreatedAt: now.Add(-24 * time.Hour),
			},
			want: true,
		},
		{
			name: "refunded payment cannot be refunded again",
			payment: Payment{
				Type:      PaymentTypeMilestone,
				Status:    PaymentStatusRefunded,
				CreatedAt: now.Add(-24 * time.Hour),
			},
			want: false,
		},
		{
			name: "processing payment is not refundable",
			payment: Payment{
				Type:      PaymentTypeMilestone,
				Status:    PaymentStatusProcessing,
				CreatedAt: now.Add(-24 * time.Hour),
			},
			want: false,
		},
		{
			name: "withdrawal is never refundable",
			payment: Payment{
				Type:      PaymentTypeWithdrawal,
				Status:    PaymentStatusCompleted,
				CreatedAt: now.Add(-24 * time.Hour),
			},
			want: false,
		},
		{
			name: "payment outside the refund window",
			payment: Payment{
				Type:      PaymentTypeMilestone,
				Status:    PaymentStatusCompleted,
				CreatedAt: now.Add(-91 * 24 * time.Hour),
			},
			want: false,
		},
		{
			name: "payment exactly at the window edge is refundable",
			payment: Payment{
				Type:      PaymentTypeMilestone,
				Status:    PaymentStatusCompleted,
				CreatedAt: now.Add(-window),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.payment.CanBeRefunded(window, now)
			if got != tt.want {
				t.Fatalf("expected refundable=%t, got %t", tt.want, got)
			}
		})
	}
}

func TestPaymentCanBeRefundedZeroWindowDisablesExpiry(t *testing.T) {
	now := time.Now().UTC()
	payment := Payment{
		Type:      PaymentTypeMilestone,
		Status:    PaymentStatusCompleted,
		CreatedAt: now.Add(-365 * 24 * time.Hour),
	}
	if !payment.CanBeRefunded(0, now) {
		t.Fatal("expected zero refund window to disable the expiry check")
	}
}
