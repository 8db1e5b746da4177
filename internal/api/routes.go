package api

import (
	"data-act-broker/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.Use(metrics.GinMiddleware())

	router.GET("/healthz", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		// Rule settings
		v1.GET("/rule_settings", handler.GetRuleSettings)
		v1.POST("/save_rule_settings", handler.SaveRuleSettings)

		// Submissions and jobs
		v1.POST("/submissions", handler.CreateSubmission)
		v1.POST("/finalize_job", handler.FinalizeJob)
		v1.POST("/submissions/:id/reupload", handler.Reupload)
		v1.GET("/submissions/:id/status", handler.GetSubmissionStatus)
	}
}
