package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go-chat-relay/internal/repository"
	"go-chat-relay/internal/service"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileHandler 处理文件上传和下载的API请求
type FileHandler struct {
	uploadService *service.UploadService
	store         *repository.MessageStore
}

// 创建新的文件处理器
func NewFileHandler(uploadService *service.UploadService, store *repository.MessageStore) *FileHandler {
	return &FileHandler{
		uploadService: uploadService,
		store:         store,
	}
}

// UploadFile 处理文件上传（两阶段流水线的第一阶段在本次请求内完成）
func (h *FileHandler) UploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to get file from request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid file"})
		return
	}

	sender := c.PostForm("sender")
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sender"})
		return
	}

	// 检查文件大小限制
	maxSize := config.GlobalConfig.Storage.MaxUploadSize()
	if maxSize > 0 && file.Size > maxSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file too large, max size is %d MB", maxSize/1024/1024),
		})
		return
	}

	msg, err := h.uploadService.SaveUpload(file, sender)
	if err != nil {
		logger.L.Error("Failed to store file", zap.Error(err), zap.String("filename", file.Filename))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// DownloadFile 提供原始文件下载服务
func (h *FileHandler) DownloadFile(c *gin.Context) {
	h.serveFrom(c, h.store.FilesDir())
}

// DownloadPreview 提供预览文件下载服务
func (h *FileHandler) DownloadPreview(c *gin.Context) {
	h.serveFrom(c, h.store.PreviewsDir())
}

func (h *FileHandler) serveFrom(c *gin.Context, dir string) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file name"})
		return
	}

	// 防止路径穿越
	if strings.ContainsAny(name, "/\\") || name != filepath.Base(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	path := filepath.Join(dir, name)
	mimeType := service.MimeTypeByExt(filepath.Ext(name))

	c.Header("Content-Type", mimeType)
	c.File(path)
}
