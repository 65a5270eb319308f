package api

import (
	"errors"
	"net/http"

	"go-chat-relay/internal/service"
	"go-chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 处理消息相关的HTTP请求
type MessageHandler struct {
	chatService *service.ChatService
}

// 创建一个新的消息处理器实例
func NewMessageHandler(chatService *service.ChatService) *MessageHandler {
	return &MessageHandler{
		chatService: chatService,
	}
}

// 获取全部消息
func (h *MessageHandler) GetMessages(c *gin.Context) {
	messages, err := h.chatService.ListMessages()
	if err != nil {
		logger.L.Error("Failed to read messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// 发送文本消息
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req service.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind SendMessage request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	msg, err := h.chatService.SendMessage(req)
	if err != nil {
		if errors.Is(err, service.ErrTextTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message text too long"})
			return
		}
		logger.L.Error("Error sending message via ChatService", zap.Error(err), zap.String("sender", req.Sender))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// 删除消息
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing message ID"})
		return
	}

	found, err := h.chatService.DeleteMessage(id)
	if err != nil {
		logger.L.Error("Error deleting message", zap.Error(err), zap.String("id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}
