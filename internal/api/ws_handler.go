package api

import (
	"net/http"

	"go-chat-relay/internal/interfaces"
	internalws "go-chat-relay/internal/websocket"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境应该配置具体的域名
		return true // 允许所有来源
	},
}

type WSHandler struct {
	hub interfaces.ConnectionManager
}

func NewWSHandler(hub interfaces.ConnectionManager) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleConnection 把HTTP连接升级为WebSocket并订阅事件推送
func (h *WSHandler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	logger.L.Info("WebSocket connection upgraded", zap.String("connID", connID))

	client := internalws.NewClient(connID, conn, h.hub, config.GlobalConfig.WebSocket.ClientSendBuffer)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
