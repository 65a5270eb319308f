package repository

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go-chat-relay/internal/model"
	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

const messagesFileName = "messages.jsonl"

// MessageStore 管理追加式的JSONL消息日志。
// 日志文件每行一条自描述的JSON记录，某一行损坏不影响其余行的读取。
// 所有修改操作（追加、改写、删除、压缩）由同一把互斥锁串行化，
// 改写通过临时文件+重命名完成，不会出现写了一半的日志。
type MessageStore struct {
	mu sync.Mutex

	dataDir      string
	messagesFile string
	filesDir     string
	previewsDir  string
}

func NewMessageStore(dataDir string) *MessageStore {
	filesDir := filepath.Join(dataDir, "files")
	return &MessageStore{
		dataDir:      dataDir,
		messagesFile: filepath.Join(dataDir, messagesFileName),
		filesDir:     filesDir,
		previewsDir:  filepath.Join(filesDir, "previews"),
	}
}

// MessagesFile 返回消息日志文件路径
func (s *MessageStore) MessagesFile() string { return s.messagesFile }

// FilesDir 返回上传文件的存储目录
func (s *MessageStore) FilesDir() string { return s.filesDir }

// PreviewsDir 返回预览文件的存储目录
func (s *MessageStore) PreviewsDir() string { return s.previewsDir }

// EnsureDataDirectory 确保数据目录存在。
// 幂等操作，只创建缺失的目录，绝不清空已有数据。
func (s *MessageStore) EnsureDataDirectory() error {
	for _, dir := range []string{s.dataDir, s.filesDir, s.previewsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	return nil
}

// ReadAll 按日志顺序返回所有消息。
// 无法解析的行记录日志后跳过，不会中断整个读取。
func (s *MessageStore) ReadAll() ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

func (s *MessageStore) readAllLocked() ([]model.Message, error) {
	if err := s.EnsureDataDirectory(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.messagesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("failed to open messages log: %w", err)
	}
	defer f.Close()

	// 用ReadBytes逐行读取而不是bufio.Scanner：
	// Scanner对超长行报token too long并放弃整个读取，
	// 这里任何长度的行都必须能读出，坏的只跳过那一行。
	messages := make([]model.Message, 0)
	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		line, readErr := r.ReadBytes('\n')
		lineNo++

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var msg model.Message
			if err := json.Unmarshal(trimmed, &msg); err != nil {
				// 跳过损坏的行，继续读取其他消息
				logger.L.Warn("Skipping corrupt log line",
					zap.Int("line", lineNo),
					zap.Error(err))
			} else {
				messages = append(messages, msg)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read messages log: %w", readErr)
		}
	}

	return messages, nil
}

// Append 把一条消息序列化为一行JSON追加到日志末尾。
func (s *MessageStore) Append(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDataDirectory(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f, err := os.OpenFile(s.messagesFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open messages log for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Update 用同ID的新记录原位替换旧记录并改写整个日志。
// ID不存在时静默返回——调用方只应更新自己创建的记录。
func (s *MessageStore) Update(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.readAllLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range messages {
		if messages[i].ID == msg.ID {
			messages[i] = *msg
			found = true
			break
		}
	}
	if !found {
		logger.L.Debug("Update skipped: message not found", zap.String("id", msg.ID))
		return nil
	}

	return s.rewriteLocked(messages)
}

// Delete 删除指定ID的消息并返回是否找到。
// 文件消息会连同存储的文件和预览一起删除（尽力而为，失败只记录日志）。
func (s *MessageStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.readAllLocked()
	if err != nil {
		return false, err
	}

	idx := -1
	for i := range messages {
		if messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	s.removeBlobsLocked(&messages[idx])

	remaining := append(messages[:idx:idx], messages[idx+1:]...)
	if err := s.rewriteLocked(remaining); err != nil {
		return false, err
	}
	return true, nil
}

// Compact 用keep函数过滤所有消息，有消息被丢弃时才改写日志。
// 返回被丢弃的数量。清理任务的各个阶段都通过它完成改写，
// 从而和其他日志修改操作共用同一把锁。
func (s *MessageStore) Compact(keep func(*model.Message) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}

	kept := make([]model.Message, 0, len(messages))
	for i := range messages {
		if keep(&messages[i]) {
			kept = append(kept, messages[i])
		}
	}

	dropped := len(messages) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	if err := s.rewriteLocked(kept); err != nil {
		return 0, err
	}
	return dropped, nil
}

// 把完整的消息序列写入临时文件后原子替换日志文件。
// 改写要么完全成功，要么保持旧内容不变。
func (s *MessageStore) rewriteLocked(messages []model.Message) error {
	if err := s.EnsureDataDirectory(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dataDir, messagesFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp log file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for i := range messages {
		data, err := json.Marshal(&messages[i])
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to marshal message %s: %w", messages[i].ID, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to write temp log file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush temp log file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp log file: %w", err)
	}

	if err := os.Rename(tmpName, s.messagesFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace messages log: %w", err)
	}
	return nil
}

// 尽力删除文件消息关联的存储文件和预览文件
func (s *MessageStore) removeBlobsLocked(msg *model.Message) {
	if !msg.IsFile() {
		return
	}

	if msg.FileName != "" {
		path := filepath.Join(s.filesDir, msg.FileName)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.L.Warn("Failed to remove stored file",
				zap.String("id", msg.ID),
				zap.String("fileName", msg.FileName),
				zap.Error(err))
		}
	}
	if msg.PreviewFileName != "" {
		path := filepath.Join(s.previewsDir, msg.PreviewFileName)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.L.Warn("Failed to remove preview file",
				zap.String("id", msg.ID),
				zap.String("previewFileName", msg.PreviewFileName),
				zap.Error(err))
		}
	}
}
