package repository

import (
	"context"
	"time"

	"github.com/launchblocks/creditgate/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (id, handle, wallet_address, api_key_hash, pro_until, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Handle,
		user.WalletAddress,
		user.APIKeyHash,
		user.ProUntil,
		user.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, handle, wallet_address, api_key_hash, pro_until, created_at
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByAPIKeyHash(ctx context.Context, db *gorm.DB, hash string) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, handle, wallet_address, api_key_hash, pro_until, created_at
		 FROM users
		 WHERE api_key_hash = ?
		 LIMIT 1`,
		hash,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ExtendProUntil(ctx context.Context, db *gorm.DB, userID int64, until time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET pro_until = ?
		 WHERE id = ? AND (pro_until IS NULL OR pro_until < ?)`,
		until,
		userID,
		until,
	).Error
}
