package types

import "time"

// PointsReason is the business reason for a balance change.
type PointsReason string

const (
	PointsSignupGrant      PointsReason = "signup_grant"
	PointsListingReward    PointsReason = "listing_reward"
	PointsRedemptionDebit  PointsReason = "redemption_debit"
	PointsRedemptionRefund PointsReason = "redemption_refund"
	PointsAdminAdjustment  PointsReason = "admin_adjustment"
)

// PointsTransaction is a single row of the points ledger.
// Amount is positive for credits and negative for debits.
type PointsTransaction struct {
	ID             int64        `json:"id" db:"id"`
	UserID         string       `json:"user_id" db:"user_id"`
	Amount         int          `json:"amount" db:"amount"`
	Reason         PointsReason `json:"reason" db:"reason"`
	IdempotencyKey string       `json:"idempotency_key" db:"idempotency_key"`
	SwapRequestID  string       `json:"swap_request_id,omitempty" db:"swap_request_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}
