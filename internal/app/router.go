package app

import (
	"github.com/gin-gonic/gin"

	"coursepulse.io/notifier/internal/api/handlers"
	"coursepulse.io/notifier/internal/api/middleware"
)

func newRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	router.GET("/healthz", server.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/resolvers", server.ListResolvers)

		v1.POST("/preferences", server.CreatePreference)
		v1.PUT("/preferences/:id", server.UpdatePreference)
		v1.DELETE("/preferences/:id", server.DeletePreference)
		v1.GET("/preferences/:id", server.GetPreference)
		v1.POST("/preferences/list", server.ListPreferences)
		v1.POST("/preferences/effective", server.EffectivePreference)

		v1.POST("/events", server.TriggerEvent)
		v1.GET("/queue/stats", server.QueueStats)
	}
	return router
}
