package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/services"
)

// AuthMiddleware guards the protected API group. Bearer tokens are
// resolved first; anything that looks like an API-key secret falls
// through to key validation. With auth disabled every request passes
// as an anonymous principal.
type AuthMiddleware struct {
	log     *logger.Logger
	auth    *services.AuthService
	apiKeys *services.APIKeyService
}

func NewAuthMiddleware(log *logger.Logger, auth *services.AuthService, apiKeys *services.APIKeyService) *AuthMiddleware {
	return &AuthMiddleware{
		log:     log.With("Middleware", "AuthMiddleware"),
		auth:    auth,
		apiKeys: apiKeys,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.auth == nil || !am.auth.Enabled() {
			am.attach(c, &ctxutil.Principal{Method: "anonymous"})
			c.Next()
			return
		}
		credential := extractCredential(c)
		if credential == "" {
			response.AbortUnauthorized(c, apierr.E(apierr.KindUnauthorized, "missing credentials"))
			return
		}
		principal, err := am.auth.Validate(c.Request.Context(), credential)
		if err != nil && am.apiKeys != nil {
			principal, err = am.apiKeys.Validate(c.Request.Context(), credential)
		}
		if err != nil {
			am.log.Debug("authentication rejected", "error", err.Error())
			response.AbortUnauthorized(c, err)
			return
		}
		am.attach(c, principal)
		c.Next()
	}
}

func (am *AuthMiddleware) attach(c *gin.Context, p *ctxutil.Principal) {
	c.Request = c.Request.WithContext(ctxutil.WithPrincipal(c.Request.Context(), p))
}

// extractCredential accepts an Authorization bearer value, the
// X-API-Key header, or a token query parameter, in that order.
func extractCredential(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("token"))
}
