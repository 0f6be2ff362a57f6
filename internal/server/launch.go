package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	launchdomain "github.com/launchblocks/creditgate/internal/launch/domain"
)

type createLaunchRequest struct {
	Kind   string          `json:"kind"`
	Title  string          `json:"title"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleCreateLaunch(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createLaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	launch, err := s.launchSvc.Create(
		c.Request.Context(),
		userID,
		launchdomain.LaunchKind(req.Kind),
		req.Title,
		req.Params,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, launch)
}

func (s *Server) handleListLaunches(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	launches, err := s.launchSvc.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if launches == nil {
		launches = []launchdomain.Launch{}
	}
	c.JSON(http.StatusOK, gin.H{"launches": launches})
}

func (s *Server) handleGetLaunch(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	launch, err := s.launchSvc.Get(c.Request.Context(), userID, c.Param("ref"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, launch)
}
