package repository

import (
	"context"

	"github.com/launchblocks/creditgate/internal/launch/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, launch *domain.Launch) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO launches (
			id, ref, user_id, kind, title, params, status, credits_spent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		launch.ID,
		launch.Ref,
		launch.UserID,
		launch.Kind,
		launch.Title,
		launch.Params,
		launch.Status,
		launch.CreditsSpent,
		launch.CreatedAt,
		launch.UpdatedAt,
	).Error
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, userID int64, ref string) (*domain.Launch, error) {
	var item domain.Launch
	err := db.WithContext(ctx).Raw(
		`SELECT id, ref, user_id, kind, title, params, status, credits_spent, created_at, updated_at
		 FROM launches
		 WHERE user_id = ? AND ref = ?
		 LIMIT 1`,
		userID,
		ref,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Launch, error) {
	var items []domain.Launch
	err := db.WithContext(ctx).Raw(
		`SELECT id, ref, user_id, kind, title, params, status, credits_spent, created_at, updated_at
		 FROM launches
		 WHERE user_id = ?
		 ORDER BY created_at DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
