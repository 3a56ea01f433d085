package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"llmqa-console/internal/config"
)

// SetupRouter 控制台 HTTP API
func SetupRouter(cfg *config.Config, qaHandler *QAHandler, metrics http.Handler) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	if cfg.Metrics.Enabled && metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api/qa")
	{
		api.POST("/conversations", qaHandler.CreateConversation)
		api.GET("/conversations", qaHandler.ListConversations)
		api.GET("/conversations/:id", qaHandler.GetConversation)
		api.DELETE("/conversations/:id", qaHandler.DeleteConversation)

		api.POST("/conversations/:id/ask", qaHandler.Ask)
		api.POST("/conversations/:id/ask/stream", qaHandler.AskStream)
		api.POST("/conversations/:id/retry", qaHandler.Retry)
		api.POST("/conversations/:id/clear", qaHandler.Clear)
		api.GET("/conversations/:id/messages", qaHandler.GetMessages)
		api.GET("/conversations/:id/context", qaHandler.GetContext)
		api.PUT("/conversations/:id/viewport", qaHandler.UpdateViewport)

		api.GET("/conversations/:id/remote/history", qaHandler.RemoteHistory)
		api.GET("/conversations/:id/remote/statistics", qaHandler.RemoteStatistics)
		api.GET("/statistics", qaHandler.GlobalStatistics)
		api.GET("/status", qaHandler.Status)
		api.GET("/hot-questions", qaHandler.HotQuestions)
		api.GET("/config", qaHandler.GetConfig)
	}

	return router
}
