package service

import (
	"context"
	"fmt"
	"strings"

	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	"github.com/launchblocks/creditgate/internal/clock"
	"github.com/launchblocks/creditgate/internal/config"
	entitlementdomain "github.com/launchblocks/creditgate/internal/entitlement/domain"
	ledgerdomain "github.com/launchblocks/creditgate/internal/ledger/domain"
	obsmetrics "github.com/launchblocks/creditgate/internal/observability/metrics"
	verifydomain "github.com/launchblocks/creditgate/internal/verify/domain"
	verifyservice "github.com/launchblocks/creditgate/internal/verify/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Validator verifydomain.Validator
	Ledger    ledgerdomain.Repository
	Accounts  accountdomain.Repository
	Pricing   *config.PricingHolder
	Cfg       config.Config
	Clock     clock.Clock
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	validator verifydomain.Validator
	ledger    ledgerdomain.Repository
	accounts  accountdomain.Repository
	pricing   *config.PricingHolder
	gateway   string
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) entitlementdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("entitlement.service"),
		validator: p.Validator,
		ledger:    p.Ledger,
		accounts:  p.Accounts,
		pricing:   p.Pricing,
		gateway:   p.Cfg.Chain.GatewayAddress,
		clock:     p.Clock,
		metrics:   p.Metrics,
	}
}

// ConfirmPayment runs validate -> record -> mark-credited -> grant. The
// ordering means a crash after the mark but before the grant never grants
// twice on retry; the retry reports ALREADY_CREDITED and the discrepancy is
// logged for reconciliation.
func (s *Service) ConfirmPayment(ctx context.Context, req entitlementdomain.ConfirmRequest) (entitlementdomain.ConfirmResult, error) {
	tag := strings.ToUpper(strings.TrimSpace(req.UsageTag))
	txHash := strings.ToLower(strings.TrimSpace(req.TxHash))

	entry, ok := s.pricing.Entry(tag)
	if !ok {
		s.metrics.RecordConfirmation("unknown_tag")
		return entitlementdomain.ConfirmResult{}, entitlementdomain.ErrUnknownUsageTag
	}
	minAmount, ok := entry.MinAmountInt()
	if !ok {
		return entitlementdomain.ConfirmResult{}, fmt.Errorf("invalid minimum amount for tag %s", tag)
	}

	verdict, err := s.validator.Validate(ctx, verifydomain.Request{
		TxHash:    txHash,
		Recipient: s.gateway,
		MinAmount: minAmount,
		Rail:      verifyservice.RailFromPricing(entry.Rail),
	})
	if err != nil {
		s.metrics.RecordConfirmation("rpc_error")
		return entitlementdomain.ConfirmResult{}, err
	}
	if !verdict.Valid {
		s.metrics.RecordConfirmation(string(verdict.Reason))
		s.log.Info("payment rejected",
			zap.String("tx", txHash),
			zap.String("usage_tag", tag),
			zap.String("reason", string(verdict.Reason)),
		)
		return entitlementdomain.ConfirmResult{
			Reason:    string(verdict.Reason),
			Retryable: verdict.Reason.Retryable(),
		}, nil
	}

	// The write path runs to completion even if the client disconnects:
	// a half-applied grant must not be cancelled mid-flight.
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()

	if _, err := s.ledger.RecordPayment(ctx, s.db, &ledgerdomain.Payment{
		TxHash:    txHash,
		ChainID:   req.ChainID,
		UserID:    req.UserID,
		UsageTag:  tag,
		Amount:    verdict.Amount.String(),
		CreatedAt: now,
	}); err != nil {
		s.metrics.RecordConfirmation("store_error")
		return entitlementdomain.ConfirmResult{}, err
	}

	credited, err := s.ledger.MarkCredited(ctx, s.db, txHash, now)
	if err != nil {
		s.metrics.RecordConfirmation("store_error")
		return entitlementdomain.ConfirmResult{}, err
	}
	if !credited {
		s.metrics.RecordConfirmation("already_credited")
		// A hash replayed under another account is worth an operator's
		// attention even though first-confirmer-wins resolves it.
		if prior, ferr := s.ledger.FindPayment(ctx, s.db, txHash); ferr == nil && prior != nil && prior.UserID != req.UserID {
			s.log.Warn("payment hash replayed by different user",
				zap.String("tx", txHash),
				zap.Int64("owner_user_id", prior.UserID),
				zap.Int64("caller_user_id", req.UserID),
			)
		}
		return entitlementdomain.ConfirmResult{
			Reason: entitlementdomain.ReasonAlreadyCredited,
		}, nil
	}

	if err := s.grant(ctx, req.UserID, txHash, entry); err != nil {
		// The credited flag is already set, so a retry will not grant
		// twice; surface the gap loudly for the reconciliation job.
		s.metrics.RecordConfirmation("grant_failed")
		s.log.Error("credits not granted after credit mark; reconciliation required",
			zap.String("tx", txHash),
			zap.Int64("user_id", req.UserID),
			zap.Int64("credits", entry.Credits),
			zap.Error(err),
		)
		return entitlementdomain.ConfirmResult{}, err
	}

	s.metrics.RecordConfirmation("credited")
	s.metrics.RecordCreditsGranted(entry.Credits)
	s.log.Info("payment credited",
		zap.String("tx", txHash),
		zap.String("usage_tag", tag),
		zap.Int64("user_id", req.UserID),
		zap.Int64("credits", entry.Credits),
		zap.String("amount", verdict.Amount.String()),
	)

	return entitlementdomain.ConfirmResult{
		Credited:     true,
		CreditsAdded: entry.Credits,
	}, nil
}

func (s *Service) grant(ctx context.Context, userID int64, txHash string, entry config.PriceEntry) error {
	now := s.clock.Now()
	if entry.Credits > 0 {
		if err := s.ledger.IncrementBalance(ctx, s.db, userID, entry.Credits, now); err != nil {
			return err
		}
	}
	if entry.ProDays > 0 {
		user, err := s.accounts.FindByID(ctx, s.db, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return accountdomain.ErrUserNotFound
		}
		base := now
		if user.ProUntil != nil && user.ProUntil.After(base) {
			base = *user.ProUntil
		}
		until := base.AddDate(0, 0, entry.ProDays)
		if err := s.accounts.ExtendProUntil(ctx, s.db, userID, until); err != nil {
			return err
		}
		s.log.Info("pro plan extended",
			zap.String("tx", txHash),
			zap.Int64("user_id", userID),
			zap.Time("pro_until", until),
		)
	}
	return nil
}

func (s *Service) Entitlements(ctx context.Context, userID int64) (entitlementdomain.Entitlements, error) {
	user, err := s.accounts.FindByID(ctx, s.db, userID)
	if err != nil {
		return entitlementdomain.Entitlements{}, err
	}
	if user == nil {
		return entitlementdomain.Entitlements{}, accountdomain.ErrUserNotFound
	}

	credits, err := s.ledger.Balance(ctx, s.db, userID)
	if err != nil {
		return entitlementdomain.Entitlements{}, err
	}

	plan := entitlementdomain.PlanFree
	if user.ProUntil != nil && user.ProUntil.After(s.clock.Now()) {
		plan = entitlementdomain.PlanPro
	}

	return entitlementdomain.Entitlements{
		Plan:     plan,
		Credits:  credits,
		ProUntil: user.ProUntil,
	}, nil
}

func (s *Service) ConsumeCredits(ctx context.Context, userID int64, amount int64, feature string) error {
	return s.ConsumeCreditsTx(ctx, s.db, userID, amount, feature)
}

func (s *Service) ConsumeCreditsTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, feature string) error {
	if amount <= 0 {
		return nil
	}
	if err := s.ledger.DecrementBalance(ctx, tx, userID, amount, s.clock.Now()); err != nil {
		return err
	}
	s.metrics.RecordCreditsConsumed(amount)
	s.log.Info("credits consumed",
		zap.Int64("user_id", userID),
		zap.Int64("credits", amount),
		zap.String("feature", feature),
	)
	return nil
}

var _ entitlementdomain.Service = (*Service)(nil)
