package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/search"
	"github.com/molehq/molesearch-backend/internal/services"
)

type SearchHandler struct {
	log     *logger.Logger
	service *services.SearchService
}

func NewSearchHandler(log *logger.Logger, service *services.SearchService) *SearchHandler {
	return &SearchHandler{
		log:     log.With("handler", "SearchHandler"),
		service: service,
	}
}

type searchResult struct {
	Hits  []search.Hit `json:"hits"`
	Total int          `json:"total"`
}

func (sh *SearchHandler) Text(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
		TopK int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	hits, err := sh.service.SearchText(c.Request.Context(), req.Text, req.TopK)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, searchResult{Hits: hits, Total: len(hits)})
}

func (sh *SearchHandler) Image(c *gin.Context) {
	var req struct {
		ImageURL string `json:"image_url"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	hits, err := sh.service.SearchImage(c.Request.Context(), req.ImageURL, req.TopK)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, searchResult{Hits: hits, Total: len(hits)})
}

func (sh *SearchHandler) Video(c *gin.Context) {
	var req struct {
		VideoURL string `json:"video_url"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	hits, err := sh.service.SearchVideo(c.Request.Context(), req.VideoURL, req.TopK)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, searchResult{Hits: hits, Total: len(hits)})
}

// Multimodal runs one query across any combination of modalities.
func (sh *SearchHandler) Multimodal(c *gin.Context) {
	var req struct {
		Text     string `json:"text"`
		ImageURL string `json:"image_url"`
		VideoURL string `json:"video_url"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	hits, err := sh.service.Search(c.Request.Context(), services.QueryInput{
		Text:     req.Text,
		ImageURL: req.ImageURL,
		VideoURL: req.VideoURL,
		TopK:     req.TopK,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, searchResult{Hits: hits, Total: len(hits)})
}
