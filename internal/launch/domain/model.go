package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrLaunchNotFound = errors.New("launch not found")
	ErrInvalidKind    = errors.New("invalid launch kind")
	ErrInvalidParams  = errors.New("invalid launch params")
)

// LaunchKind names the generated artifact a launch produces.
type LaunchKind string

const (
	KindSecAudit     LaunchKind = "sec_audit"
	KindTokenLaunch  LaunchKind = "token_launch"
	KindBotStub      LaunchKind = "bot_stub"
	KindBusinessPlan LaunchKind = "business_plan"
)

type LaunchStatus string

// StatusDraft is a paid-for launch. Content generation happens outside this
// service, so nothing here moves a launch past draft.
const StatusDraft LaunchStatus = "draft"

// Launch is one paid generation request. Creating it consumes credits
// atomically with the insert.
type Launch struct {
	ID           int64          `json:"-" gorm:"primaryKey"`
	Ref          string         `json:"ref" gorm:"type:text;not null;uniqueIndex"`
	UserID       int64          `json:"-" gorm:"column:user_id;not null;index"`
	Kind         LaunchKind     `json:"kind" gorm:"type:text;not null"`
	Title        string         `json:"title" gorm:"type:text;not null"`
	Params       datatypes.JSON `json:"params" gorm:"type:jsonb"`
	Status       LaunchStatus   `json:"status" gorm:"type:text;not null"`
	CreditsSpent int64          `json:"credits_spent" gorm:"column:credits_spent;not null"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Launch) TableName() string { return "launches" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, launch *Launch) error
	FindByRef(ctx context.Context, db *gorm.DB, userID int64, ref string) (*Launch, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID int64) ([]Launch, error)
}

type Service interface {
	// Create consumes the kind's credit cost and records the launch in one
	// transaction; insufficient credits roll the whole thing back.
	Create(ctx context.Context, userID int64, kind LaunchKind, title string, params []byte) (*Launch, error)
	List(ctx context.Context, userID int64) ([]Launch, error)
	Get(ctx context.Context, userID int64, ref string) (*Launch, error)
}
