package repository

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

// ErrDestinationExists 表示目标JSONL日志已存在，迁移被拒绝执行。
var ErrDestinationExists = fmt.Errorf("destination messages log already exists")

// MigrateCSVToJSONL 把旧版CSV日志一次性转换为JSONL格式。
// 目标文件已存在时拒绝执行（防止覆盖或重复导入），源文件保持原样。
// 转换成功后把源文件复制（而非移动）为.backup备份。
func MigrateCSVToJSONL(csvPath, jsonlPath string) error {
	if _, err := os.Stat(jsonlPath); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, jsonlPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat destination log: %w", err)
	}

	messages, err := ReadLegacyMessages(csvPath)
	if err != nil {
		return err
	}

	logger.L.Info("Read legacy messages", zap.Int("count", len(messages)), zap.String("source", csvPath))

	if len(messages) == 0 {
		logger.L.Info("No legacy messages to migrate")
		return nil
	}

	// 先写入临时文件再原子重命名，迁移中断不会留下半成品日志
	dir := filepath.Dir(jsonlPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(jsonlPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp migration file: %w", err)
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
			return fmt.Errorf("failed to write migration file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush migration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close migration file: %w", err)
	}
	if err := os.Rename(tmpName, jsonlPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize migration file: %w", err)
	}

	// 备份原CSV文件
	backupPath := csvPath + ".backup"
	if err := copyFile(csvPath, backupPath); err != nil {
		return fmt.Errorf("failed to back up legacy csv file: %w", err)
	}

	logger.L.Info("Migration completed",
		zap.Int("migrated", len(messages)),
		zap.String("destination", jsonlPath),
		zap.String("backup", backupPath))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
