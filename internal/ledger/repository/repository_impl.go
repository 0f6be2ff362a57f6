package repository

import (
	"context"
	"time"

	"github.com/launchblocks/creditgate/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) RecordPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			tx_hash, chain_id, user_id, usage_tag, amount, credited, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash) DO NOTHING`,
		payment.TxHash,
		payment.ChainID,
		payment.UserID,
		payment.UsageTag,
		payment.Amount,
		payment.Credited,
		payment.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, txHash string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT tx_hash, chain_id, user_id, usage_tag, amount, credited, created_at, credited_at
		 FROM payments
		 WHERE tx_hash = ?
		 LIMIT 1`,
		txHash,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.TxHash == "" {
		return nil, nil
	}
	return &item, nil
}

// MarkCredited relies on the affected-row count of a single conditional
// UPDATE; two racing confirmations can never both see RowsAffected == 1.
func (r *repo) MarkCredited(ctx context.Context, db *gorm.DB, txHash string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET credited = TRUE, credited_at = ?
		 WHERE tx_hash = ? AND credited = FALSE`,
		at,
		txHash,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementBalance(ctx context.Context, db *gorm.DB, userID int64, amount int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_balances (user_id, balance, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = credit_balances.balance + excluded.balance,
		     updated_at = excluded.updated_at`,
		userID,
		amount,
		at,
	).Error
}

func (r *repo) DecrementBalance(ctx context.Context, db *gorm.DB, userID int64, amount int64, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET balance = balance - ?, updated_at = ?
		 WHERE user_id = ? AND balance >= ?`,
		amount,
		at,
		userID,
		amount,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientCredits
	}
	return nil
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(
			(SELECT balance FROM credit_balances WHERE user_id = ?), 0
		 )`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
