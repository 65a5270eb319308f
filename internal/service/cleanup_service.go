package service

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go-chat-relay/internal/model"
	"go-chat-relay/internal/repository"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

// CleanupService 定期回收过期内容，一次清理依次执行三个独立阶段：
//  1. 按年龄和大小分级删除过期文件（大文件保留短，小文件保留长）
//  2. 删除超过保留期的文本消息
//  3. 删除文件已不存在的孤立文件消息
//
// 每个阶段各自幂等，中途被打断时日志仍处于合法状态。
// 涉及消息日志的阶段都通过store.Compact改写，和其他日志操作共用同一把锁。
type CleanupService struct {
	store *repository.MessageStore
	cfg   config.CleanupConfig
}

func NewCleanupService(store *repository.MessageStore) *CleanupService {
	return &CleanupService{
		store: store,
		cfg:   config.GlobalConfig.Cleanup,
	}
}

// Start 启动清理调度器：立即执行一次，之后按固定间隔执行，
// ctx取消时停止。
func (s *CleanupService) Start(ctx context.Context) {
	interval := s.cfg.Interval()
	if interval <= 0 {
		interval = time.Hour
		logger.L.Warn("Invalid cleanup interval, using default", zap.Duration("default", interval))
	}

	logger.L.Info("Cleanup scheduler started", zap.Duration("interval", interval))

	go func() {
		s.RunCleanup()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.L.Info("Cleanup scheduler stopped")
				return
			case <-ticker.C:
				s.RunCleanup()
			}
		}
	}()
}

// RunCleanup 执行一次完整的清理流程
func (s *CleanupService) RunCleanup() {
	logger.L.Info("Cleanup started",
		zap.String("largeFileThreshold", formatBytes(s.cfg.LargeFileThreshold())),
		zap.Duration("largeFileRetention", s.cfg.LargeFileRetention()),
		zap.Duration("smallFileRetention", s.cfg.SmallFileRetention()),
		zap.Duration("textRetention", s.cfg.TextRetention()))

	s.cleanupExpiredFiles()
	s.cleanupExpiredMessages()
	s.cleanupOrphanedFileMessages()

	logger.L.Info("Cleanup finished")
}

// 阶段1：按年龄和大小分级删除过期文件。
// 原始文件和预览文件使用相同的保留策略，单个文件删除失败不中断本阶段。
func (s *CleanupService) cleanupExpiredFiles() {
	for _, dir := range []string{s.store.FilesDir(), s.store.PreviewsDir()} {
		s.sweepDirectory(dir)
	}
}

func (s *CleanupService) sweepDirectory(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L.Debug("Files directory missing, skipping sweep", zap.String("dir", dir))
			return
		}
		logger.L.Error("Failed to read files directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	now := time.Now()
	deletedCount := 0
	var deletedSize int64

	for _, entry := range entries {
		if entry.IsDir() {
			// 预览子目录单独清理
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.L.Warn("Failed to stat file", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}

		age := now.Sub(info.ModTime())
		retention := s.cfg.SmallFileRetention()
		if info.Size() > s.cfg.LargeFileThreshold() {
			retention = s.cfg.LargeFileRetention()
		}

		if age <= retention {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.L.Warn("Failed to delete expired file",
				zap.String("name", entry.Name()),
				zap.Error(err))
			continue
		}
		deletedCount++
		deletedSize += info.Size()
		logger.L.Info("Deleted expired file",
			zap.String("name", entry.Name()),
			zap.String("size", formatBytes(info.Size())),
			zap.Duration("age", age))
	}

	if deletedCount > 0 {
		logger.L.Info("File sweep done",
			zap.String("dir", dir),
			zap.Int("deleted", deletedCount),
			zap.String("freed", formatBytes(deletedSize)))
	}
}

// 阶段2：删除超过保留期的文本消息。
// 文件消息在本阶段始终保留，它们的生命周期由阶段1和阶段3决定。
func (s *CleanupService) cleanupExpiredMessages() {
	now := time.Now()
	retention := s.cfg.TextRetention()

	dropped, err := s.store.Compact(func(msg *model.Message) bool {
		if msg.Type != model.MessageTypeText {
			return true
		}
		createdAt, err := msg.CreatedAt()
		if err != nil {
			// 时间戳无法解析的文本消息按过期处理
			logger.L.Warn("Dropping text message with unparseable timestamp",
				zap.String("id", msg.ID),
				zap.String("timestamp", msg.Timestamp))
			return false
		}
		return now.Sub(createdAt) <= retention
	})
	if err != nil {
		logger.L.Error("Message expiry pass failed", zap.Error(err))
		return
	}

	if dropped > 0 {
		logger.L.Info("Expired text messages removed", zap.Int("deleted", dropped))
	}
}

// 阶段3：删除引用的文件已不存在的文件消息。
// 文本消息绝不会被本阶段删除。
// 每条记录在Compact持锁期间单独stat一次：上传总是先落盘文件再追加记录，
// 所以持锁时能看到记录就一定能看到它的文件，不会误删刚上传的消息。
// 提前对整个目录做快照会在快照和加锁之间留下误删窗口。
func (s *CleanupService) cleanupOrphanedFileMessages() {
	dropped, err := s.store.Compact(func(msg *model.Message) bool {
		if msg.Type != model.MessageTypeFile {
			return true
		}
		if msg.FileName == "" {
			return false
		}
		_, statErr := os.Stat(filepath.Join(s.store.FilesDir(), msg.FileName))
		if statErr != nil && !os.IsNotExist(statErr) {
			// stat出错时保守起见保留记录
			logger.L.Warn("Failed to stat referenced file, keeping record",
				zap.String("id", msg.ID),
				zap.String("fileName", msg.FileName),
				zap.Error(statErr))
			return true
		}
		return statErr == nil
	})
	if err != nil {
		logger.L.Error("Orphan cleanup pass failed", zap.Error(err))
		return
	}

	if dropped > 0 {
		logger.L.Info("Orphaned file messages removed", zap.Int("deleted", dropped))
	}
}

// 格式化字节大小
func formatBytes(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	sizes := []string{"B", "KB", "MB", "GB"}
	i := int(math.Log(float64(bytes)) / math.Log(1024))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f %s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}
