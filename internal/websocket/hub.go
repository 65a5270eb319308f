package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"go-chat-relay/internal/interfaces"
	"go-chat-relay/internal/model"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

// Hub 是基于Go通道的连接管理器：单个goroutine串行处理
// 注册、注销和事件广播，clients映射不需要加锁。
type Hub struct {
	clients    map[string]interfaces.Client
	broadcast  chan *model.Event
	register   chan interfaces.Client
	unregister chan interfaces.Client

	retryCount    int
	retryInterval time.Duration
}

func NewHub() *Hub {
	wsConfig := config.GlobalConfig.WebSocket

	retryCount := wsConfig.EventRetryCount
	if retryCount <= 0 {
		retryCount = 3
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", retryCount))
	}

	retryInterval := time.Duration(wsConfig.EventRetryIntervalMs) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", retryInterval))
	}

	broadcastBufferSize := wsConfig.BroadcastBufferSize
	if broadcastBufferSize <= 0 {
		broadcastBufferSize = 256
		logger.L.Warn("Invalid BroadcastBufferSize, using default", zap.Int("default", broadcastBufferSize))
	}

	return &Hub{
		clients:       make(map[string]interfaces.Client),
		broadcast:     make(chan *model.Event, broadcastBufferSize),
		register:      make(chan interfaces.Client),
		unregister:    make(chan interfaces.Client),
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

func (h *Hub) Register(client interfaces.Client) {
	h.register <- client
}

func (h *Hub) Unregister(client interfaces.Client) {
	h.unregister <- client
}

// BroadcastEvent 把事件放入广播队列。
// 队列满时直接丢弃并返回错误，不阻塞调用方。
func (h *Hub) BroadcastEvent(event *model.Event) error {
	select {
	case h.broadcast <- event:
		logger.L.Debug("Event queued for broadcast",
			zap.String("kind", string(event.Kind)),
			zap.String("messageID", event.Message.ID))
		return nil
	default:
		logger.L.Warn("Hub broadcast channel full. Dropping event.",
			zap.String("kind", string(event.Kind)),
			zap.String("messageID", event.Message.ID))
		return errors.New("hub broadcast channel is full")
	}
}

func (h *Hub) trySendEvent(client interfaces.Client, data []byte) {
	if err := client.QueueBytes(data); err == nil {
		return
	}

	for i := 0; i < h.retryCount; i++ {
		logger.L.Warn("Client send buffer full, retry attempt",
			zap.String("connID", client.ConnID()),
			zap.Int("attempt", i+1))
		time.Sleep(h.retryInterval)
		if err := client.QueueBytes(data); err == nil {
			return
		}
	}

	// 所有重试失败 关闭连接
	logger.L.Error("Client send buffer still full after retries, closing connection",
		zap.String("connID", client.ConnID()),
		zap.Int("attempts", h.retryCount))
	if _, ok := h.clients[client.ConnID()]; ok {
		client.Close()
		delete(h.clients, client.ConnID())
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.ConnID()] = client
			logger.L.Info("Client registered", zap.String("connID", client.ConnID()))

		case client := <-h.unregister:
			if _, ok := h.clients[client.ConnID()]; ok {
				delete(h.clients, client.ConnID())
				client.Close()
				logger.L.Info("Client unregistered", zap.String("connID", client.ConnID()))
			}

		case event := <-h.broadcast:
			// 序列化一次，推给所有连接
			data, err := json.Marshal(event)
			if err != nil {
				logger.L.Error("Failed to marshal event", zap.Error(err))
				continue
			}

			for _, client := range h.clients {
				h.trySendEvent(client, data)
			}
		}
	}
}
