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

	"llmqa-console/internal/backend"
	"llmqa-console/internal/config"
	"llmqa-console/internal/model"
	"llmqa-console/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx := context.Background()
	chatModel, err := model.NewChatModel(ctx, cfg.DevServer)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}
	answerer, err := backend.NewAnswerer(ctx, chatModel, cfg.DevServer.SystemPrompt)
	if err != nil {
		logger.Fatalf("Failed to build answerer: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler: backend.NewServer(cfg.DevServer, answerer).Router(),
	}

	go func() {
		logger.Infof("开发问答后端启动在端口 %d，模型提供方 %s", cfg.DevServer.Port, cfg.DevServer.Provider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.MaxRequestTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}
