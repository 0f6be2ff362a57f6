package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	accountrepository "github.com/launchblocks/creditgate/internal/account/repository"
	"github.com/launchblocks/creditgate/internal/clock"
	"github.com/launchblocks/creditgate/internal/config"
	entitlementservice "github.com/launchblocks/creditgate/internal/entitlement/service"
	launchservice "github.com/launchblocks/creditgate/internal/launch/service"
	ledgerrepository "github.com/launchblocks/creditgate/internal/ledger/repository"
	launchrepository "github.com/launchblocks/creditgate/internal/launch/repository"
	verifydomain "github.com/launchblocks/creditgate/internal/verify/domain"
)

const (
	testAPIKey = "cg_test_key"
	validHash  = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

type scriptedValidator struct {
	result verifydomain.Result
	err    error
}

func (v *scriptedValidator) Validate(ctx context.Context, req verifydomain.Request) (verifydomain.Result, error) {
	if v.err != nil {
		return verifydomain.Result{}, v.err
	}
	return v.result, nil
}

func setupTestServer(t *testing.T, validator verifydomain.Validator) (*gin.Engine, *gorm.DB, int64) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
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
		`CREATE TABLE launches (
			id BIGINT PRIMARY KEY,
			ref TEXT NOT NULL UNIQUE,
			user_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			credits_spent BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate().Int64()
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, handle, wallet_address, api_key_hash, created_at)
		 VALUES (?, 'tester', '', ?, ?)`,
		userID,
		accountdomain.HashAPIKey(testAPIKey),
		time.Now().UTC(),
	).Error)

	pricing, err := config.NewStaticPricingHolder(config.DefaultPricingConfig())
	require.NoError(t, err)
	cfg := config.Config{
		Chain: config.ChainConfig{
			ChainID:        1,
			GatewayAddress: "0x1111111111111111111111111111111111111111",
		},
	}
	fc := clock.NewFakeClock(time.Now())
	log := zap.NewNop()
	ledgerRepo := ledgerrepository.Provide()
	accountRepo := accountrepository.Provide()

	entitlementSvc := entitlementservice.NewService(entitlementservice.Params{
		DB:        db,
		Log:       log,
		Validator: validator,
		Ledger:    ledgerRepo,
		Accounts:  accountRepo,
		Pricing:   pricing,
		Cfg:       cfg,
		Clock:     fc,
	})
	launchSvc := launchservice.NewService(launchservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Entitlements: entitlementSvc,
		Repo:         launchrepository.Provide(),
		Pricing:      pricing,
		Clock:        fc,
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:            engine,
		Cfg:            cfg,
		DB:             db,
		Log:            log,
		Accounts:       accountRepo,
		EntitlementSvc: entitlementSvc,
		LaunchSvc:      launchSvc,
	})
	srv.registerRoutes()

	return engine, db, userID
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func confirmBody(tag, hash string) gin.H {
	return gin.H{"chainId": 1, "txHash": hash, "usageTag": tag}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestConfirmEndpointGrantsCredits(t *testing.T) {
	validator := &scriptedValidator{result: verifydomain.Result{
		Valid:  true,
		Amount: big.NewInt(1_000_000_000_000_000),
	}}
	engine, _, _ := setupTestServer(t, validator)

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", validHash), testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["credited"])
	assert.Equal(t, float64(5), body["creditsAdded"])
}

func TestConfirmEndpointReplay(t *testing.T) {
	validator := &scriptedValidator{result: verifydomain.Result{
		Valid:  true,
		Amount: big.NewInt(1_000_000_000_000_000),
	}}
	engine, _, _ := setupTestServer(t, validator)

	first := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", validHash), testAPIKey)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", validHash), testAPIKey)
	require.Equal(t, http.StatusOK, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["credited"])
	assert.Equal(t, "ALREADY_CREDITED", body["reason"])
}

func TestConfirmEndpointUnderpaid(t *testing.T) {
	validator := &scriptedValidator{result: verifydomain.Result{
		Valid:  false,
		Reason: verifydomain.ReasonUnderpaid,
	}}
	engine, _, _ := setupTestServer(t, validator)

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", validHash), testAPIKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "TX_NOT_VALIDATED", body["error"])
	assert.Equal(t, "UNDERPAID", body["reason"])
}

func TestConfirmEndpointNotFoundIsRetryable(t *testing.T) {
	validator := &scriptedValidator{result: verifydomain.Result{
		Valid:  false,
		Reason: verifydomain.ReasonNotFound,
	}}
	engine, _, _ := setupTestServer(t, validator)

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", validHash), testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "NOT_FOUND", body["reason"])
	assert.Equal(t, true, body["retryable"])
}

func TestConfirmEndpointUnknownTag(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("NOPE", validHash), testAPIKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "UNKNOWN_USAGE_TAG", body["error"])
}

func TestConfirmEndpointRejectsMalformedHash(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("SEC_AUDIT", "0x1234"), testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmEndpointRejectsWrongChain(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	body := gin.H{"chainId": 999, "txHash": validHash, "usageTag": "SEC_AUDIT"}
	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", body, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodGet, "/me/entitlements", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/me/entitlements", nil, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEntitlementsEndpoint(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodGet, "/me/entitlements", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "free", body["plan"])
	assert.Equal(t, float64(0), body["credits"])
	assert.Nil(t, body["proUntil"])
}

func TestLaunchEndpoints(t *testing.T) {
	validator := &scriptedValidator{result: verifydomain.Result{
		Valid:  true,
		Amount: big.NewInt(5_000_000_000_000_000),
	}}
	engine, _, _ := setupTestServer(t, validator)

	rec := doJSON(t, engine, http.MethodPost, "/credit/confirm", confirmBody("TOKEN_LAUNCH", validHash), testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	create := doJSON(t, engine, http.MethodPost, "/launches", gin.H{
		"kind":   "sec_audit",
		"title":  "Audit my token",
		"params": gin.H{"contract": "0xdead"},
	}, testAPIKey)
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())

	created := decodeBody(t, create)
	ref, _ := created["ref"].(string)
	require.NotEmpty(t, ref)
	assert.Equal(t, "draft", created["status"])
	assert.Equal(t, float64(5), created["credits_spent"])

	balance := doJSON(t, engine, http.MethodGet, "/me/entitlements", nil, testAPIKey)
	require.Equal(t, http.StatusOK, balance.Code)
	assert.Equal(t, float64(15), decodeBody(t, balance)["credits"])

	list := doJSON(t, engine, http.MethodGet, "/launches", nil, testAPIKey)
	require.Equal(t, http.StatusOK, list.Code)
	launches, _ := decodeBody(t, list)["launches"].([]any)
	assert.Len(t, launches, 1)

	get := doJSON(t, engine, http.MethodGet, "/launches/"+ref, nil, testAPIKey)
	assert.Equal(t, http.StatusOK, get.Code)

	missing := doJSON(t, engine, http.MethodGet, "/launches/NO_SUCH_REF", nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestLaunchInsufficientCredits(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodPost, "/launches", gin.H{
		"kind":  "token_launch",
		"title": "no balance",
	}, testAPIKey)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestLaunchUnknownKind(t *testing.T) {
	engine, _, _ := setupTestServer(t, &scriptedValidator{})

	rec := doJSON(t, engine, http.MethodPost, "/launches", gin.H{
		"kind":  "mystery",
		"title": "nope",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
