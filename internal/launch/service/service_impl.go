package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/launchblocks/creditgate/internal/clock"
	"github.com/launchblocks/creditgate/internal/config"
	entitlementdomain "github.com/launchblocks/creditgate/internal/entitlement/domain"
	launchdomain "github.com/launchblocks/creditgate/internal/launch/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Entitlements entitlementdomain.Service
	Repo         launchdomain.Repository
	Pricing      *config.PricingHolder
	Clock        clock.Clock
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	entitlements entitlementdomain.Service
	repo         launchdomain.Repository
	pricing      *config.PricingHolder
	clock        clock.Clock
}

func NewService(p Params) launchdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("launch.service"),
		genID:        p.GenID,
		entitlements: p.Entitlements,
		repo:         p.Repo,
		pricing:      p.Pricing,
		clock:        p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, userID int64, kind launchdomain.LaunchKind, title string, params []byte) (*launchdomain.Launch, error) {
	cost, ok := s.pricing.LaunchCost(string(kind))
	if !ok {
		return nil, launchdomain.ErrInvalidKind
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = string(kind)
	}
	if len(params) == 0 {
		params = []byte("{}")
	}
	if !json.Valid(params) {
		return nil, launchdomain.ErrInvalidParams
	}

	now := s.clock.Now()
	launch := &launchdomain.Launch{
		ID:           s.genID.Generate().Int64(),
		Ref:          ulid.Make().String(),
		UserID:       userID,
		Kind:         kind,
		Title:        title,
		Params:       datatypes.JSON(params),
		Status:       launchdomain.StatusDraft,
		CreditsSpent: cost,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.entitlements.ConsumeCreditsTx(ctx, tx, userID, cost, string(kind)); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, launch)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("launch created",
		zap.String("ref", launch.Ref),
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Int64("credits_spent", cost),
	)
	return launch, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]launchdomain.Launch, error) {
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) Get(ctx context.Context, userID int64, ref string) (*launchdomain.Launch, error) {
	launch, err := s.repo.FindByRef(ctx, s.db, userID, strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if launch == nil {
		return nil, launchdomain.ErrLaunchNotFound
	}
	return launch, nil
}

var _ launchdomain.Service = (*Service)(nil)
