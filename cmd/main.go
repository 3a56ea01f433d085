package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"llmqa-console/internal/config"
	"llmqa-console/internal/handler"
	"llmqa-console/internal/observability"
	"llmqa-console/internal/qa"
	"llmqa-console/internal/service"
	"llmqa-console/internal/storage"
	"llmqa-console/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 初始化服务
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	client := qa.NewClient(cfg.QA, cfg.Request)
	qaService := service.NewQAService(cfg, client, storage.NewMemoryStorage(), metrics)
	defer qaService.Close()

	// 初始化处理器
	qaHandler := handler.NewQAHandler(qaService)

	// 创建路由
	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(cfg, qaHandler, metrics.Handler())

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d，问答后端 %s", cfg.Server.Port, cfg.QA.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), config.MaxRequestTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}
