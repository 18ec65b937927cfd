package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/services"
)

type AuthHandler struct {
	log  *logger.Logger
	auth *services.AuthService
}

func NewAuthHandler(log *logger.Logger, auth *services.AuthService) *AuthHandler {
	return &AuthHandler{
		log:  log.With("handler", "AuthHandler"),
		auth: auth,
	}
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	token, info, err := ah.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"token":      token,
		"expires_at": info.ExpiresAt,
		"user": gin.H{
			"username": info.Username,
			"role":     info.Role,
		},
	})
}

// Logout revokes the presented bearer token.
func (ah *AuthHandler) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		response.Error(c, apierr.E(apierr.KindUnauthorized, "missing token"))
		return
	}
	if err := ah.auth.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"revoked": true})
}

// Me reports the principal the middleware resolved for this request.
func (ah *AuthHandler) Me(c *gin.Context) {
	principal := ctxutil.GetPrincipal(c.Request.Context())
	if principal == nil {
		response.Error(c, apierr.E(apierr.KindUnauthorized, "no authenticated principal"))
		return
	}
	response.OK(c, gin.H{
		"username": principal.Username,
		"role":     principal.Role,
		"method":   principal.Method,
	})
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
