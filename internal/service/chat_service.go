package service

import (
	"errors"
	"fmt"
	"time"

	"go-chat-relay/internal/model"
	"go-chat-relay/internal/repository"
	"go-chat-relay/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster 是服务层看到的推送通道
type Broadcaster interface {
	BroadcastEvent(event *model.Event) error
}

// 单条文本消息的最大长度（字节）
const MaxTextBytes = 64 * 1024

// ErrTextTooLong 表示消息文本超过MaxTextBytes
var ErrTextTooLong = errors.New("message text too long")

type ChatService struct {
	store *repository.MessageStore
	hub   Broadcaster
}

func NewChatService(store *repository.MessageStore, hub Broadcaster) *ChatService {
	return &ChatService{
		store: store,
		hub:   hub,
	}
}

type MessageRequest struct {
	Text   string `json:"text" binding:"required"`
	Sender string `json:"sender" binding:"required"`
}

// ListMessages 按日志顺序返回所有消息
func (s *ChatService) ListMessages() ([]model.Message, error) {
	return s.store.ReadAll()
}

// SendMessage 创建一条文本消息：追加到日志并广播created事件。
// 广播失败不影响已落盘的消息，只记录日志。
func (s *ChatService) SendMessage(req MessageRequest) (*model.Message, error) {
	if len(req.Text) > MaxTextBytes {
		logger.L.Warn("Rejected oversized text message",
			zap.String("sender", req.Sender),
			zap.Int("textBytes", len(req.Text)))
		return nil, ErrTextTooLong
	}

	msg := &model.Message{
		ID:        uuid.NewString(),
		Text:      req.Text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      model.MessageTypeText,
		Sender:    req.Sender,
	}

	if err := s.store.Append(msg); err != nil {
		logger.L.Error("Failed to append text message", zap.String("id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	logger.L.Debug("Text message saved", zap.String("id", msg.ID), zap.String("sender", msg.Sender))

	if err := s.hub.BroadcastEvent(&model.Event{Kind: model.EventCreated, Message: *msg}); err != nil {
		logger.L.Warn("Failed to broadcast created event", zap.String("id", msg.ID), zap.Error(err))
	}

	return msg, nil
}

// DeleteMessage 删除指定ID的消息并广播deleted事件。
// 返回是否找到该消息。
func (s *ChatService) DeleteMessage(id string) (bool, error) {
	found, err := s.store.Delete(id)
	if err != nil {
		logger.L.Error("Failed to delete message", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	if !found {
		return false, nil
	}

	if err := s.hub.BroadcastEvent(&model.Event{
		Kind:    model.EventDeleted,
		Message: model.Message{ID: id},
	}); err != nil {
		logger.L.Warn("Failed to broadcast deleted event", zap.String("id", id), zap.Error(err))
	}

	return true, nil
}
