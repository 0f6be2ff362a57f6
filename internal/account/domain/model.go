package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// User is an account on the launchpad. API keys are stored hashed; the raw
// key is shown once at creation.
type User struct {
	ID            int64      `gorm:"primaryKey"`
	Handle        string     `gorm:"type:text;not null;uniqueIndex"`
	WalletAddress string     `gorm:"type:text"`
	APIKeyHash    string     `gorm:"column:api_key_hash;type:text;not null;uniqueIndex"`
	ProUntil      *time.Time `gorm:"column:pro_until"`
	CreatedAt     time.Time
}

func (User) TableName() string { return "users" }

// HashAPIKey derives the stored lookup hash for a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*User, error)
	FindByAPIKeyHash(ctx context.Context, db *gorm.DB, hash string) (*User, error)
	// ExtendProUntil moves pro_until forward, never backward.
	ExtendProUntil(ctx context.Context, db *gorm.DB, userID int64, until time.Time) error
}
