package main

import (
	"context"
	"fmt"
	"log"

	"go-chat-relay/internal/api"
	"go-chat-relay/internal/middleware"
	"go-chat-relay/internal/repository"
	"go-chat-relay/internal/service"
	"go-chat-relay/internal/websocket"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 初始化配置
	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	logCfg := config.GlobalConfig.Log
	if err := logger.InitLogger(logCfg.Level, logCfg.Production); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 初始化消息存储
	store := repository.NewMessageStore(config.GlobalConfig.Storage.DataDir)
	if err := store.EnsureDataDirectory(); err != nil {
		log.Fatalf("Failed to initialize data directory: %v", err)
	}

	// 创建并启动推送Hub
	hub, err := websocket.CreateHub()
	if err != nil {
		log.Fatalf("Failed to create hub: %v", err)
	}
	if err := websocket.StartHub(hub); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	// 预览生成器
	previewCfg := config.GlobalConfig.Preview
	var preview service.PreviewGenerator
	if previewCfg.Enabled {
		preview = service.NewFFmpegPreviewGenerator(
			previewCfg.FFmpegPath, store.FilesDir(), store.PreviewsDir(), previewCfg.Timeout())
	} else {
		preview = service.DisabledPreviewGenerator{}
	}

	chatService := service.NewChatService(store, hub)
	uploadService := service.NewUploadService(store, hub, preview)

	// 启动定时清理任务
	cleanupService := service.NewCleanupService(store)
	cleanupService.Start(context.Background())

	// 创建Gin引擎
	r := gin.New()
	r.Use(middleware.GinZapLogger(), gin.Recovery())
	r.MaxMultipartMemory = 8 << 20

	// 注册API路由
	messageHandler := api.NewMessageHandler(chatService)
	fileHandler := api.NewFileHandler(uploadService, store)
	wsHandler := api.NewWSHandler(hub)

	r.GET("/api/messages", messageHandler.GetMessages)
	r.POST("/api/messages", messageHandler.SendMessage)
	r.DELETE("/api/messages/:id", messageHandler.DeleteMessage)
	r.POST("/api/upload", fileHandler.UploadFile)
	r.GET("/api/files/:name", fileHandler.DownloadFile)
	r.GET("/api/previews/:name", fileHandler.DownloadPreview)
	r.GET("/ws", wsHandler.HandleConnection)

	// 启动服务器
	addr := fmt.Sprintf(":%d", config.GlobalConfig.Server.Port)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
