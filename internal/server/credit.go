package server

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	chaindomain "github.com/launchblocks/creditgate/internal/chain/domain"
	entitlementdomain "github.com/launchblocks/creditgate/internal/entitlement/domain"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type confirmPaymentRequest struct {
	ChainID  int64  `json:"chainId"`
	TxHash   string `json:"txHash"`
	UsageTag string `json:"usageTag"`
}

type confirmPaymentResponse struct {
	OK           bool   `json:"ok"`
	Credited     bool   `json:"credited"`
	CreditsAdded int64  `json:"creditsAdded,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

type confirmPaymentError struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// handleConfirmPayment drives the validate-then-credit flow. Outcomes that
// are not the caller's fault (not yet mined, already credited) come back as
// 200 so clients can poll the same hash without special-casing statuses.
func (s *Server) handleConfirmPayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if s.confirmLimiter.Enabled() {
		allowed, retryAfter, err := s.confirmLimiter.AllowUser(c.Request.Context(), userID)
		if err != nil {
			// Redis being down must not block payments; fall through.
			s.log.Warn("confirm rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			s.obsMetrics.RecordRateLimitDenied()
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
			}
			c.JSON(http.StatusTooManyRequests, confirmPaymentError{
				Error: "RATE_LIMITED",
			})
			return
		}
	}

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txHash := strings.TrimSpace(req.TxHash)
	if !txHashPattern.MatchString(txHash) || strings.TrimSpace(req.UsageTag) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.ChainID != s.cfg.Chain.ChainID {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.entitlementSvc.ConfirmPayment(c.Request.Context(), entitlementdomain.ConfirmRequest{
		UserID:   userID,
		ChainID:  req.ChainID,
		TxHash:   txHash,
		UsageTag: req.UsageTag,
	})
	if err != nil {
		switch {
		case errors.Is(err, entitlementdomain.ErrUnknownUsageTag):
			c.JSON(http.StatusBadRequest, confirmPaymentError{
				Error: "UNKNOWN_USAGE_TAG",
			})
		case errors.Is(err, chaindomain.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, confirmPaymentError{
				Error: "SERVICE_UNAVAILABLE",
			})
		default:
			c.JSON(http.StatusInternalServerError, confirmPaymentError{
				Error: "INTERNAL_ERROR",
			})
		}
		return
	}

	if result.Credited {
		c.JSON(http.StatusOK, confirmPaymentResponse{
			OK:           true,
			Credited:     true,
			CreditsAdded: result.CreditsAdded,
		})
		return
	}

	switch result.Reason {
	case entitlementdomain.ReasonAlreadyCredited:
		c.JSON(http.StatusOK, confirmPaymentResponse{
			OK:     true,
			Reason: result.Reason,
		})
	default:
		if result.Retryable {
			c.JSON(http.StatusOK, confirmPaymentResponse{
				OK:        true,
				Reason:    result.Reason,
				Retryable: true,
			})
			return
		}
		c.JSON(http.StatusBadRequest, confirmPaymentError{
			Error:  "TX_NOT_VALIDATED",
			Reason: result.Reason,
		})
	}
}

type entitlementsResponse struct {
	Plan     string  `json:"plan"`
	Credits  int64   `json:"credits"`
	ProUntil *string `json:"proUntil"`
}

func (s *Server) handleEntitlements(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ent, err := s.entitlementSvc.Entitlements(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := entitlementsResponse{
		Plan:    ent.Plan,
		Credits: ent.Credits,
	}
	if ent.ProUntil != nil {
		formatted := ent.ProUntil.UTC().Format(time.RFC3339)
		resp.ProUntil = &formatted
	}
	c.JSON(http.StatusOK, resp)
}
