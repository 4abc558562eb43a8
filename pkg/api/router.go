package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LENAX/durable-engine/pkg/actions"
	"github.com/LENAX/durable-engine/pkg/api/handler"
	"github.com/LENAX/durable-engine/pkg/api/middleware"
	"github.com/LENAX/durable-engine/pkg/core/engine"
)

// SetupRouter 设置路由
// registry为空时不挂载动作webhook
func SetupRouter(eng *engine.Engine, registry *actions.Registry, version string, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))

	workflowHandler := handler.NewWorkflowHandler(eng, log)
	healthHandler := handler.NewHealthHandler(eng, version)

	// 健康检查与指标（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(eng.MetricsGatherer(), promhttp.HandlerOpts{})))

	if registry != nil {
		actionHandler := handler.NewActionHandler(registry)
		router.POST("/webhook", actionHandler.Webhook)
		router.GET("/actions", actionHandler.Actions)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/registry", workflowHandler.Registry)

		workflows := v1.Group("/workflows")
		{
			workflows.GET("", workflowHandler.List)
			workflows.POST("", workflowHandler.Start)
			workflows.GET("/:id", workflowHandler.Get)
			workflows.GET("/:id/steps", workflowHandler.Steps)
			workflows.GET("/:id/watch", workflowHandler.Watch)
		}
	}

	return router
}
