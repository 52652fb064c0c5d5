package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashsync/internal/models"
	"dashsync/internal/oauth"
)

const oauthCallbackPath = "/api/oauth/teamleader/callback"

type OAuthFlow interface {
	AuthCodeURL(tenantID string) (string, error)
	Exchange(ctx context.Context, code, state string) (*models.OAuthIntegration, error)
}

type OAuthHandler struct {
	Flow   OAuthFlow
	Logger *zap.Logger
}

func (h *OAuthHandler) Register(r *gin.Engine) {
	group := r.Group("/api/oauth/teamleader")
	group.GET("/authorize", h.authorize)
	group.GET("/callback", h.callback)
}

// @Summary Start Teamleader authorization
// @Tags oauth
// @Param tenant_id query string true "tenant id"
// @Success 302
// @Security BearerAuth
// @Router /api/oauth/teamleader/authorize [get]
func (h *OAuthHandler) authorize(c *gin.Context) {
	if h.Flow == nil {
		Error(c, http.StatusServiceUnavailable, "teamleader oauth not configured", nil)
		return
	}
	target, err := h.Flow.AuthCodeURL(strings.TrimSpace(c.Query("tenant_id")))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// @Summary Teamleader authorization callback
// @Tags oauth
// @Param code query string true "authorization code"
// @Param state query string true "state from authorize"
// @Success 200 {object} apiResponse
// @Router /api/oauth/teamleader/callback [get]
func (h *OAuthHandler) callback(c *gin.Context) {
	if h.Flow == nil {
		Error(c, http.StatusServiceUnavailable, "teamleader oauth not configured", nil)
		return
	}
	if msg := strings.TrimSpace(c.Query("error")); msg != "" {
		Error(c, http.StatusBadRequest, "authorization denied: "+msg, nil)
		return
	}
	it, err := h.Flow.Exchange(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, oauth.ErrInvalidState) {
			status = http.StatusBadRequest
		}
		if h.Logger != nil {
			h.Logger.Warn("teamleader oauth callback failed", zap.Error(err))
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"tenant_id":  it.TenantID,
		"provider":   it.Provider,
		"expires_at": it.ExpiresAt,
	}, nil)
}
