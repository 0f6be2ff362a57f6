package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	pkgdb "github.com/launchblocks/creditgate/pkg/db"
)

const devHandle = "dev"

// EnsureDevAccount seeds a development account and prints its API key so a
// fresh checkout can call the API immediately. Production deployments keep
// this disabled.
func EnsureDevAccount(db *gorm.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing accountdomain.User
		err := tx.WithContext(ctx).
			Raw(`SELECT id, handle FROM users WHERE handle = ? LIMIT 1`, devHandle).
			Scan(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		rawKey, err := newAPIKey()
		if err != nil {
			return err
		}

		user := accountdomain.User{
			ID:         node.Generate().Int64(),
			Handle:     devHandle,
			APIKeyHash: accountdomain.HashAPIKey(rawKey),
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO users (id, handle, wallet_address, api_key_hash, pro_until, created_at)
			 VALUES (?, ?, ?, ?, NULL, ?)`,
			user.ID,
			user.Handle,
			user.WalletAddress,
			user.APIKeyHash,
			user.CreatedAt,
		).Error; err != nil {
			// Two instances racing the same bootstrap is not a failure.
			if pkgdb.IsDuplicateKeyErr(err) {
				return nil
			}
			return err
		}

		log.Info("seeded dev account",
			zap.Int64("user_id", user.ID),
			zap.String("handle", user.Handle),
			zap.String("api_key", rawKey),
		)
		return nil
	})
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("cg_%s", hex.EncodeToString(buf)), nil
}
