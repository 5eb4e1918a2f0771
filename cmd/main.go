package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ikhwanand/gemini-ai-chatbot/internal/config"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/handler"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/metrics"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/model"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/service"
	"github.com/Ikhwanand/gemini-ai-chatbot/internal/tools"
	"github.com/Ikhwanand/gemini-ai-chatbot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Warnf("Failed to init logger: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	ctx := context.Background()

	chatModel, err := model.NewChatModel(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}

	// MCP 服务连接失败不影响启动，只是少了对应的工具
	mcpTools, err := tools.NewMCPToolset(ctx, cfg.Search.MCPServers)
	if err != nil {
		logger.Warnf("Some MCP servers are unavailable: %v", err)
	}

	spec := service.SearchAgentSpec{
		Description:  cfg.Search.Description,
		Instructions: cfg.Search.Instructions,
		Fallback:     cfg.Search.Fallback,
		MaxSteps:     cfg.Search.MaxSteps,
	}
	agentFactory := service.NewSearchAgentFactory(chatModel, spec, tools.NewSearchToolset(cfg.Search, mcpTools))

	// 初始化处理器
	chatHandler := handler.NewChatHandler(service.NewChatService(chatModel), cfg.Server.StreamFraming)
	searchHandler := handler.NewSearchHandler(agentFactory)

	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(cfg, chatHandler, searchHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := mcpTools.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}
