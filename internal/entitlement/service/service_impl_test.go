package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	accountrepository "github.com/launchblocks/creditgate/internal/account/repository"
	"github.com/launchblocks/creditgate/internal/clock"
	"github.com/launchblocks/creditgate/internal/config"
	entitlementdomain "github.com/launchblocks/creditgate/internal/entitlement/domain"
	ledgerrepository "github.com/launchblocks/creditgate/internal/ledger/repository"
	verifydomain "github.com/launchblocks/creditgate/internal/verify/domain"
)

const (
	testUserID = int64(7001)
	testHash   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// validatorStub returns a scripted verdict without touching any chain.
type validatorStub struct {
	mu     sync.Mutex
	result verifydomain.Result
	err    error
	calls  int
}

func (v *validatorStub) Validate(ctx context.Context, req verifydomain.Request) (verifydomain.Result, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.err != nil {
		return verifydomain.Result{}, v.err
	}
	return v.result, nil
}

func (v *validatorStub) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func validPayment(amount int64) verifydomain.Result {
	return verifydomain.Result{
		Valid:  true,
		Amount: big.NewInt(amount),
		Payer:  "0x2222222222222222222222222222222222222222",
	}
}

func rejected(reason verifydomain.Reason) verifydomain.Result {
	return verifydomain.Result{Valid: false, Reason: reason}
}

func setupEntitlementDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	for _, stmt := range []string{
		`CREATE TABLE payments (
			tx_hash TEXT PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			usage_tag TEXT NOT NULL,
			amount TEXT NOT NULL,
			credited BOOLEAN NOT NULL DEFAULT FALSE,
			credited_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE credit_balances (
			user_id BIGINT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			handle TEXT NOT NULL,
			wallet_address TEXT,
			api_key_hash TEXT NOT NULL,
			pro_until TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	if err := db.Exec(
		`INSERT INTO users (id, handle, wallet_address, api_key_hash, created_at)
		 VALUES (?, ?, '', 'hash', ?)`,
		testUserID, "tester", time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return db
}

func setupService(t *testing.T, validator verifydomain.Validator, fc *clock.FakeClock) (entitlementdomain.Service, *gorm.DB) {
	t.Helper()

	db := setupEntitlementDB(t)
	pricing, err := config.NewStaticPricingHolder(config.DefaultPricingConfig())
	require.NoError(t, err)

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Validator: validator,
		Ledger:    ledgerrepository.Provide(),
		Accounts:  accountrepository.Provide(),
		Pricing:   pricing,
		Cfg: config.Config{
			Chain: config.ChainConfig{
				ChainID:        1,
				GatewayAddress: "0x1111111111111111111111111111111111111111",
			},
		},
		Clock: fc,
	})
	return svc, db
}

func confirmRequest(tag string) entitlementdomain.ConfirmRequest {
	return entitlementdomain.ConfirmRequest{
		UserID:   testUserID,
		ChainID:  1,
		TxHash:   testHash,
		UsageTag: tag,
	}
}

func TestConfirmPaymentGrantsCredits(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, db := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.Equal(t, int64(5), result.CreditsAdded)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ent.Credits)
	assert.Equal(t, entitlementdomain.PlanFree, ent.Plan)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payments WHERE credited`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConfirmPaymentReplayAlreadyCredited(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	first, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	require.True(t, first.Credited)

	second, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	assert.False(t, second.Credited)
	assert.Equal(t, entitlementdomain.ReasonAlreadyCredited, second.Reason)
	assert.False(t, second.Retryable)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ent.Credits)
}

func TestConfirmPaymentReplayByOtherUserGrantsNothing(t *testing.T) {
	const otherUserID = int64(7002)
	fc := clock.NewFakeClock(time.Now())
	svc, db := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	require.NoError(t, db.Exec(
		`INSERT INTO users (id, handle, wallet_address, api_key_hash, created_at)
		 VALUES (?, ?, '', 'hash2', ?)`,
		otherUserID, "second", time.Now().UTC(),
	).Error)

	first, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	require.True(t, first.Credited)

	req := confirmRequest("SEC_AUDIT")
	req.UserID = otherUserID
	second, err := svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Credited)
	assert.Equal(t, entitlementdomain.ReasonAlreadyCredited, second.Reason)

	owner, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), owner.Credits)

	other, err := svc.Entitlements(context.Background(), otherUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Credits)
}

func TestConfirmPaymentAtMostOnce(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	credited := 0
	for i := 0; i < 10; i++ {
		result, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
		require.NoError(t, err)
		if result.Credited {
			credited++
		}
	}
	assert.Equal(t, 1, credited)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ent.Credits)
}

func TestConfirmPaymentConcurrentAtMostOnce(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	const workers = 16
	results := make(chan entitlementdomain.ConfirmResult, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
			results <- result
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	credited, replayed := 0, 0
	for result := range results {
		if result.Credited {
			credited++
			continue
		}
		assert.Equal(t, entitlementdomain.ReasonAlreadyCredited, result.Reason)
		replayed++
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, workers-1, replayed)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ent.Credits)
}

func TestConfirmPaymentRejectedNotStored(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, db := setupService(t, &validatorStub{result: rejected(verifydomain.ReasonUnderpaid)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	assert.False(t, result.Credited)
	assert.Equal(t, string(verifydomain.ReasonUnderpaid), result.Reason)
	assert.False(t, result.Retryable)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestConfirmPaymentNotFoundIsRetryable(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: rejected(verifydomain.ReasonNotFound)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.NoError(t, err)
	assert.False(t, result.Credited)
	assert.Equal(t, string(verifydomain.ReasonNotFound), result.Reason)
	assert.True(t, result.Retryable)
}

func TestConfirmPaymentUnknownTag(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	stub := &validatorStub{result: validPayment(1)}
	svc, _ := setupService(t, stub, fc)

	_, err := svc.ConfirmPayment(context.Background(), confirmRequest("NO_SUCH_TAG"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, entitlementdomain.ErrUnknownUsageTag))
	assert.Equal(t, 0, stub.Calls())
}

func TestConfirmPaymentTagCaseInsensitive(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: validPayment(1_000_000_000_000_000)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("sec_audit"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.Equal(t, int64(5), result.CreditsAdded)
}

func TestConfirmPaymentValidatorError(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, db := setupService(t, &validatorStub{err: errors.New("rpc timeout")}, fc)

	_, err := svc.ConfirmPayment(context.Background(), confirmRequest("SEC_AUDIT"))
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestConfirmPaymentExtendsProPlan(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(start)
	svc, _ := setupService(t, &validatorStub{result: validPayment(10_000_000_000_000_000)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("PRO_SUB"))
	require.NoError(t, err)
	assert.True(t, result.Credited)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.PlanPro, ent.Plan)
	require.NotNil(t, ent.ProUntil)
	assert.WithinDuration(t, start.AddDate(0, 0, 30), *ent.ProUntil, time.Minute)

	fc.Advance(31 * 24 * time.Hour)
	ent, err = svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.PlanFree, ent.Plan)
}

func TestConfirmPaymentStacksProExtensions(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(start)
	svc, _ := setupService(t, &validatorStub{result: validPayment(10_000_000_000_000_000)}, fc)

	first, err := svc.ConfirmPayment(context.Background(), confirmRequest("PRO_SUB"))
	require.NoError(t, err)
	require.True(t, first.Credited)

	req := confirmRequest("PRO_SUB")
	req.TxHash = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	second, err := svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Credited)

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	require.NotNil(t, ent.ProUntil)
	assert.WithinDuration(t, start.AddDate(0, 0, 60), *ent.ProUntil, time.Minute)
}

func TestConsumeCredits(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{result: validPayment(5_000_000_000_000_000)}, fc)

	result, err := svc.ConfirmPayment(context.Background(), confirmRequest("TOKEN_LAUNCH"))
	require.NoError(t, err)
	require.Equal(t, int64(20), result.CreditsAdded)

	require.NoError(t, svc.ConsumeCredits(context.Background(), testUserID, 5, "sec_audit"))

	ent, err := svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), ent.Credits)

	err = svc.ConsumeCredits(context.Background(), testUserID, 100, "token_launch")
	require.Error(t, err)

	ent, err = svc.Entitlements(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), ent.Credits)
}

func TestEntitlementsUnknownUser(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, _ := setupService(t, &validatorStub{}, fc)

	_, err := svc.Entitlements(context.Background(), 999999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accountdomain.ErrUserNotFound))
}
