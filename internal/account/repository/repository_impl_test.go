package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/launchblocks/creditgate/internal/account/domain"
)

func setupUserDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE users (
		id BIGINT PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE,
		wallet_address TEXT,
		api_key_hash TEXT NOT NULL UNIQUE,
		pro_until TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`).Error)
	return db
}

func TestCreateAndFind(t *testing.T) {
	db := setupUserDB(t)
	repo := Provide()
	ctx := context.Background()

	user := &domain.User{
		ID:         101,
		Handle:     "alice",
		APIKeyHash: domain.HashAPIKey("cg_alice"),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, db, user))

	byID, err := repo.FindByID(ctx, db, 101)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "alice", byID.Handle)
	assert.Nil(t, byID.ProUntil)

	byHash, err := repo.FindByAPIKeyHash(ctx, db, domain.HashAPIKey("cg_alice"))
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, int64(101), byHash.ID)

	missing, err := repo.FindByAPIKeyHash(ctx, db, domain.HashAPIKey("cg_bob"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExtendProUntilOnlyMovesForward(t *testing.T) {
	db := setupUserDB(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, db, &domain.User{
		ID:         102,
		Handle:     "bob",
		APIKeyHash: domain.HashAPIKey("cg_bob"),
		CreatedAt:  time.Now().UTC(),
	}))

	future := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ExtendProUntil(ctx, db, 102, future))

	user, err := repo.FindByID(ctx, db, 102)
	require.NoError(t, err)
	require.NotNil(t, user.ProUntil)
	assert.True(t, user.ProUntil.Equal(future))

	// An earlier date must not shrink the subscription.
	earlier := future.AddDate(0, -1, 0)
	require.NoError(t, repo.ExtendProUntil(ctx, db, 102, earlier))

	user, err = repo.FindByID(ctx, db, 102)
	require.NoError(t, err)
	require.NotNil(t, user.ProUntil)
	assert.True(t, user.ProUntil.Equal(future))

	later := future.AddDate(0, 2, 0)
	require.NoError(t, repo.ExtendProUntil(ctx, db, 102, later))

	user, err = repo.FindByID(ctx, db, 102)
	require.NoError(t, err)
	require.NotNil(t, user.ProUntil)
	assert.True(t, user.ProUntil.Equal(later))
}

func TestHashAPIKeyStable(t *testing.T) {
	a := domain.HashAPIKey("cg_key")
	b := domain.HashAPIKey("cg_key")
	c := domain.HashAPIKey("cg_other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
