package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/services"
)

type APIKeyHandler struct {
	log     *logger.Logger
	service *services.APIKeyService
}

func NewAPIKeyHandler(log *logger.Logger, service *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		log:     log.With("handler", "APIKeyHandler"),
		service: service,
	}
}

// Create mints a key; the response is the only place the full secret
// ever appears.
func (kh *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name        string   `json:"name"`
		ExpiresIn   int      `json:"expires_in_hours"`
		Permissions []string `json:"permissions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	ttl := time.Duration(req.ExpiresIn) * time.Hour
	key, err := kh.service.Create(c.Request.Context(), req.Name, ttl, req.Permissions)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, key)
}

func (kh *APIKeyHandler) List(c *gin.Context) {
	keys, err := kh.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"keys": keys, "total": len(keys)})
}

func (kh *APIKeyHandler) Delete(c *gin.Context) {
	if err := kh.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": true})
}
