package handler

import (
	"net/http"
	"time"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 注册中间件与全部路由
func SetupRouter(cfg *config.Config, chatHandler *ChatHandler, searchHandler *SearchHandler) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog())
	if cfg.Metrics.Enabled {
		router.Use(middleware.Metrics())
	}

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

	// 流式响应不能被压缩缓冲
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/stream"})))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(middleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)))
	}
	{
		api.POST("/chat", chatHandler.Chat)
		api.POST("/stream", chatHandler.Stream)
		api.POST("/toggle-stream", chatHandler.ToggleStream)
		api.POST("/search", searchHandler.Search)
	}

	return router
}
