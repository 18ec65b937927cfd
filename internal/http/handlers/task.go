package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/http/response"
	"github.com/molehq/molesearch-backend/internal/platform/apierr"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
	"github.com/molehq/molesearch-backend/internal/tasks"
)

type TaskHandler struct {
	log     *logger.Logger
	manager *tasks.Manager
}

func NewTaskHandler(log *logger.Logger, manager *tasks.Manager) *TaskHandler {
	return &TaskHandler{
		log:     log.With("handler", "TaskHandler"),
		manager: manager,
	}
}

func (th *TaskHandler) Get(c *gin.Context) {
	task, err := th.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, task)
}

func (th *TaskHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		response.Error(c, err)
		return
	}
	if limit < 1 || limit > 1000 {
		response.Error(c, apierr.Ef(apierr.KindValidation, "limit must be in [1,1000]; got %d", limit))
		return
	}
	list, err := th.manager.ListAll(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"tasks": list, "total": len(list)})
}

func (th *TaskHandler) Stats(c *gin.Context) {
	stats, err := th.manager.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Cleanup removes terminal tasks older than max_age_hours (default 24).
func (th *TaskHandler) Cleanup(c *gin.Context) {
	hours, err := queryInt(c, "max_age_hours", 24)
	if err != nil {
		response.Error(c, err)
		return
	}
	if hours < 1 {
		response.Error(c, apierr.Ef(apierr.KindValidation, "max_age_hours must be >= 1; got %d", hours))
		return
	}
	removed, err := th.manager.Cleanup(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"removed": removed})
}
