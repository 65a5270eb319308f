package main

import (
	"errors"
	"flag"
	"log"
	"path/filepath"

	"go-chat-relay/internal/repository"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"
)

// 一次性迁移工具：把旧版CSV消息日志转换为JSONL格式。
// 目标文件已存在时拒绝执行，原CSV会被复制为.backup备份。
func main() {
	csvPath := flag.String("csv", "", "path to the legacy messages.csv (default: <data_dir>/messages.csv)")
	jsonlPath := flag.String("jsonl", "", "path to the destination messages.jsonl (default: <data_dir>/messages.jsonl)")
	flag.Parse()

	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.InitLogger(config.GlobalConfig.Log.Level, config.GlobalConfig.Log.Production); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	dataDir := config.GlobalConfig.Storage.DataDir
	src := *csvPath
	if src == "" {
		src = filepath.Join(dataDir, "messages.csv")
	}
	dst := *jsonlPath
	if dst == "" {
		dst = filepath.Join(dataDir, "messages.jsonl")
	}

	if err := repository.MigrateCSVToJSONL(src, dst); err != nil {
		if errors.Is(err, repository.ErrDestinationExists) {
			log.Fatalf("Migration refused: %v (delete or back up the destination first)", err)
		}
		log.Fatalf("Migration failed: %v", err)
	}
}
