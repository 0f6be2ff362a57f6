package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrInsufficientCredits rejects a decrement that would drive the balance
// below zero. The balance is left unchanged.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Repository is the durable, idempotent bookkeeping of payments and
// balances. The database is the sole arbiter of exactly-once crediting:
// MarkCredited must be a single conditional update, never read-then-write.
type Repository interface {
	// RecordPayment inserts the payment if absent and reports whether this
	// call created it. A duplicate hash is not an error; the stored row wins.
	RecordPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindPayment(ctx context.Context, db *gorm.DB, txHash string) (*Payment, error)
	// MarkCredited flips credited false->true and reports whether this call
	// performed the transition. Safe under concurrent confirmations.
	MarkCredited(ctx context.Context, db *gorm.DB, txHash string, at time.Time) (bool, error)
	IncrementBalance(ctx context.Context, db *gorm.DB, userID int64, amount int64, at time.Time) error
	DecrementBalance(ctx context.Context, db *gorm.DB, userID int64, amount int64, at time.Time) error
	// Balance reads the current count; a missing row reads as zero.
	Balance(ctx context.Context, db *gorm.DB, userID int64) (int64, error)
}
