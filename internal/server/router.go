package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/molehq/molesearch-backend/internal/http/handlers"
	httpMW "github.com/molehq/molesearch-backend/internal/http/middleware"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string
	ServiceName string
	Tracing     bool

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler *httpH.HealthHandler
	SearchHandler *httpH.SearchHandler
	DataHandler   *httpH.DataHandler
	TaskHandler   *httpH.TaskHandler
	AuthHandler   *httpH.AuthHandler
	APIKeyHandler *httpH.APIKeyHandler
	FileHandler   *httpH.FileHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Public
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}
	api := r.Group("/api/v1")
	if cfg.AuthHandler != nil {
		api.POST("/auth/login", cfg.AuthHandler.Login)
	}

	// Protected
	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if cfg.AuthHandler != nil {
		protected.POST("/auth/logout", cfg.AuthHandler.Logout)
		protected.GET("/auth/me", cfg.AuthHandler.Me)
	}

	if cfg.SearchHandler != nil {
		protected.POST("/search/text", cfg.SearchHandler.Text)
		protected.POST("/search/image", cfg.SearchHandler.Image)
		protected.POST("/search/video", cfg.SearchHandler.Video)
		protected.POST("/search/multimodal", cfg.SearchHandler.Multimodal)
	}

	if cfg.DataHandler != nil {
		protected.POST("/data/insert", cfg.DataHandler.Insert)
		protected.POST("/data/batch-insert", cfg.DataHandler.BatchInsert)
		protected.GET("/data/list", cfg.DataHandler.List)
	}

	if cfg.TaskHandler != nil {
		protected.GET("/tasks", cfg.TaskHandler.List)
		protected.GET("/tasks/stats", cfg.TaskHandler.Stats)
		protected.POST("/tasks/cleanup", cfg.TaskHandler.Cleanup)
		protected.GET("/tasks/:id", cfg.TaskHandler.Get)
	}

	if cfg.APIKeyHandler != nil {
		protected.POST("/apikeys", cfg.APIKeyHandler.Create)
		protected.GET("/apikeys", cfg.APIKeyHandler.List)
		protected.DELETE("/apikeys/:id", cfg.APIKeyHandler.Delete)
	}

	if cfg.FileHandler != nil {
		protected.POST("/files/upload", cfg.FileHandler.Upload)
	}

	return r
}
