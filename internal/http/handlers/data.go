package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/services"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

type DataHandler struct {
	log     *logger.Logger
	service *services.SearchService
}

func NewDataHandler(log *logger.Logger, service *services.SearchService) *DataHandler {
	return &DataHandler{
		log:     log.With("handler", "DataHandler"),
		service: service,
	}
}

type insertItem struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
	VideoURL string `json:"video_url"`
}

func (i insertItem) toItem() tasks.Item {
	return tasks.Item{Text: i.Text, ImageURL: i.ImageURL, VideoURL: i.VideoURL}
}

// Insert accepts one item and returns 202 with the task id; the
// worker picks the task up from there.
func (dh *DataHandler) Insert(c *gin.Context) {
	var req insertItem
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	id, err := dh.service.Insert(c.Request.Context(), req.toItem())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"task_id": id})
}

func (dh *DataHandler) BatchInsert(c *gin.Context) {
	var req struct {
		Items []insertItem `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	items := make([]tasks.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.toItem())
	}
	id, err := dh.service.BatchInsert(c.Request.Context(), items)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"task_id": id, "total": len(items)})
}

func (dh *DataHandler) List(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Error(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size", 10)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := dh.service.List(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Ef(apierr.KindValidation, "%s must be an integer; got %q", name, raw)
	}
	return v, nil
}
