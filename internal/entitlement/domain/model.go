package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrUnknownUsageTag rejects confirmation for a tag absent from the price
// table. A client bug, not a retryable condition.
var ErrUnknownUsageTag = errors.New("unknown usage tag")

// ReasonAlreadyCredited reports a replayed hash: the payment is real but its
// credits were granted by an earlier confirmation.
const ReasonAlreadyCredited = "ALREADY_CREDITED"

const (
	PlanFree = "free"
	PlanPro  = "pro"
)

type ConfirmRequest struct {
	UserID   int64
	ChainID  int64
	TxHash   string
	UsageTag string
}

// ConfirmResult is the outcome of one confirmation attempt. Reason is empty
// exactly when Credited; Retryable marks rejections worth polling again
// (a hash the node has not seen yet).
type ConfirmResult struct {
	Credited     bool
	CreditsAdded int64
	Reason       string
	Retryable    bool
}

type Entitlements struct {
	Plan     string
	Credits  int64
	ProUntil *time.Time
}

// Service turns claimed transaction hashes into credited balance with
// at-most-once semantics, and serves balance/plan lookups.
type Service interface {
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
	// Entitlements is eventually consistent with recent confirmations.
	Entitlements(ctx context.Context, userID int64) (Entitlements, error)
	ConsumeCredits(ctx context.Context, userID int64, amount int64, feature string) error
	// ConsumeCreditsTx runs the same decrement inside the caller's
	// transaction so the feature write and the spend commit together.
	ConsumeCreditsTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, feature string) error
}
