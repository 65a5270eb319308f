package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-chat-relay/internal/model"
	"go-chat-relay/internal/repository"
	"go-chat-relay/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PreviewGenerator 为存储的文件派生预览。
// 返回预览文件名；无法生成预览时返回空字符串（不视为错误）。
type PreviewGenerator interface {
	Generate(storedName, mimeType string) (string, error)
}

// UploadService 实现两阶段的文件上传流水线。
// 第一阶段同步：落盘文件、追加pending记录、广播created。
// 第二阶段异步：生成预览后改写记录状态并广播updated，
// 每条记录的第二阶段只执行一次，失败不重试也不影响已提交的记录。
type UploadService struct {
	store   *repository.MessageStore
	hub     Broadcaster
	preview PreviewGenerator
}

func NewUploadService(store *repository.MessageStore, hub Broadcaster, preview PreviewGenerator) *UploadService {
	return &UploadService{
		store:   store,
		hub:     hub,
		preview: preview,
	}
}

// SaveUpload 执行第一阶段并触发第二阶段。
// 返回时记录已持久化且created事件已入队，调用方可以直接响应请求。
func (s *UploadService) SaveUpload(file *multipart.FileHeader, sender string) (*model.Message, error) {
	if err := s.store.EnsureDataDirectory(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storedName := id + "_" + sanitizeFilename(file.Filename)

	if err := s.persistBlob(file, storedName); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:            id,
		Text:          file.Filename,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Type:          model.MessageTypeFile,
		Sender:        sender,
		FileName:      storedName,
		PreviewStatus: model.PreviewPending,
	}

	if err := s.store.Append(msg); err != nil {
		logger.L.Error("Failed to append file message", zap.String("id", id), zap.Error(err))
		// 记录没写成功就不能留下无记录可寻的文件
		if rmErr := os.Remove(filepath.Join(s.store.FilesDir(), storedName)); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.L.Warn("Failed to remove stored file after append failure",
				zap.String("fileName", storedName),
				zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to save file message: %w", err)
	}

	logger.L.Info("File stored",
		zap.String("id", id),
		zap.String("fileName", storedName),
		zap.Int64("size", file.Size),
		zap.String("sender", sender))

	if err := s.hub.BroadcastEvent(&model.Event{Kind: model.EventCreated, Message: *msg}); err != nil {
		logger.L.Warn("Failed to broadcast created event", zap.String("id", id), zap.Error(err))
	}

	// 第二阶段独立运行，不能再影响本次请求
	mimeType := declaredMimeType(file)
	go s.resolvePreview(*msg, mimeType)

	return msg, nil
}

// 把上传内容写入存储目录
func (s *UploadService) persistBlob(file *multipart.FileHeader, storedName string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.store.FilesDir(), storedName))
	if err != nil {
		return fmt.Errorf("failed to create stored file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write stored file: %w", err)
	}
	return nil
}

// 第二阶段：生成预览并把结果写回记录。
// 所有错误在这里就地消化，previewStatus最终恰好落到completed或failed一次。
func (s *UploadService) resolvePreview(msg model.Message, mimeType string) {
	previewName, err := s.preview.Generate(msg.FileName, mimeType)

	switch {
	case err != nil:
		logger.L.Warn("Preview generation failed",
			zap.String("id", msg.ID),
			zap.String("fileName", msg.FileName),
			zap.Error(err))
		msg.PreviewStatus = model.PreviewFailed
	case previewName == "":
		logger.L.Debug("No preview available",
			zap.String("id", msg.ID),
			zap.String("mimeType", mimeType))
		msg.PreviewStatus = model.PreviewFailed
	default:
		msg.PreviewStatus = model.PreviewCompleted
		msg.PreviewFileName = previewName
	}

	if err := s.store.Update(&msg); err != nil {
		logger.L.Error("Failed to update message after preview",
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}

	if err := s.hub.BroadcastEvent(&model.Event{Kind: model.EventUpdated, Message: msg}); err != nil {
		logger.L.Warn("Failed to broadcast updated event", zap.String("id", msg.ID), zap.Error(err))
	}
}

// 净化原始文件名，防止路径穿越和空白问题
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}

// 客户端声明的内容类型，缺失时根据扩展名推断
func declaredMimeType(file *multipart.FileHeader) string {
	if ct := file.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return MimeTypeByExt(filepath.Ext(file.Filename))
}

// MimeTypeByExt 根据扩展名确定MIME类型
func MimeTypeByExt(fileExt string) string {
	switch strings.ToLower(fileExt) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
