package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/lessongen-backend/internal/http"
	httpH "github.com/yungbote/lessongen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lessongen-backend/internal/http/middleware"
	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

func wireServer(db *gorm.DB, log *logger.Logger, cfg Config, svcs Services, metrics *observability.Metrics) *apphttp.Server {
	log.Info("Wiring handlers...")
	auth := httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey)
	if !auth.Enabled() {
		log.Warn("JWT_SECRET_KEY not set; API runs without authentication")
	}
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		ServiceName:    cfg.ServiceName,
		AuthMiddleware: auth,
		PlanHandler:    httpH.NewPlanHandler(svcs.Plans),
		LessonHandler:  httpH.NewLessonHandler(svcs.Plans, svcs.Runs),
		RunHandler:     httpH.NewRunHandler(svcs.Runs),
		StreamHandler:  httpH.NewStreamHandler(log, svcs.Runs, svcs.Progress),
		HealthHandler:  httpH.NewHealthHandler(db),
	})
}
