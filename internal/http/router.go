package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lessongen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lessongen-backend/internal/http/middleware"
	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AuthMiddleware *httpMW.AuthMiddleware

	PlanHandler   *httpH.PlanHandler
	LessonHandler *httpH.LessonHandler
	RunHandler    *httpH.RunHandler
	StreamHandler *httpH.StreamHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Plans
	if cfg.PlanHandler != nil {
		api.POST("/plans", cfg.PlanHandler.StartPlan)
		api.GET("/plans/:id", cfg.PlanHandler.GetPlan)
		api.POST("/plans/:id/replan", cfg.PlanHandler.Replan)
		api.POST("/plans/:id/accept", cfg.PlanHandler.Accept)
	}

	// Lessons
	if cfg.LessonHandler != nil {
		api.GET("/lessons/:id", cfg.LessonHandler.GetLesson)
		api.POST("/lessons/:id/split", cfg.LessonHandler.Split)
	}

	// Runs
	if cfg.RunHandler != nil {
		api.GET("/runs/:id", cfg.RunHandler.Get)
		api.POST("/runs/:id/start", cfg.RunHandler.Start)
		api.POST("/runs/:id/resume", cfg.RunHandler.Resume)
		api.POST("/runs/:id/cancel", cfg.RunHandler.Cancel)
	}

	// Progress streams
	if cfg.StreamHandler != nil {
		api.GET("/runs/:id/events", cfg.StreamHandler.SSE)
		api.GET("/runs/:id/ws", cfg.StreamHandler.WebSocket)
	}

	return r
}
