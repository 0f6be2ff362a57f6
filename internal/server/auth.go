package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	"github.com/launchblocks/creditgate/internal/usercontext"
)

const contextUserIDKey = "user_id"

// APIKeyRequired authenticates requests with a Bearer API key and installs
// the resolved user id on the request context.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := accountdomain.HashAPIKey(parts[1])
		user, err := s.accounts.FindByAPIKeyHash(c.Request.Context(), s.db, hash)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if user == nil || subtle.ConstantTimeCompare([]byte(user.APIKeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, user.ID)
		c.Request = c.Request.WithContext(
			usercontext.WithUserID(c.Request.Context(), user.ID),
		)
		c.Next()
	}
}

func currentUserID(c *gin.Context) (int64, bool) {
	if id, ok := usercontext.UserID(c.Request.Context()); ok {
		return id, true
	}
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
