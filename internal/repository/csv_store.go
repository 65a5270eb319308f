package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go-chat-relay/internal/model"
	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

// 旧版CSV日志的表头
var legacyCSVHeader = []string{"id", "text", "timestamp", "type", "sender", "fileName"}

// ReadLegacyMessages 读取旧版CSV格式的消息日志。
// 逐行容错解析：解析失败的行记录日志后跳过，不影响其余行。
func ReadLegacyMessages(csvPath string) ([]model.Message, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy csv file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	// 行内字段数不做强校验，缺失字段当作空值处理
	r.FieldsPerRecord = -1

	messages := make([]model.Message, 0)
	lineNo := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.L.Warn("Skipping malformed legacy csv row",
					zap.Int("line", lineNo),
					zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("failed to read legacy csv file: %w", err)
		}

		// 跳过表头行
		if lineNo == 1 && len(row) > 0 && row[0] == legacyCSVHeader[0] {
			continue
		}

		msg, ok := legacyRowToMessage(row)
		if !ok {
			logger.L.Warn("Skipping incomplete legacy csv row", zap.Int("line", lineNo))
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func legacyRowToMessage(row []string) (model.Message, bool) {
	field := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	id := field(0)
	if id == "" {
		return model.Message{}, false
	}

	msgType := model.MessageType(field(3))
	if msgType != model.MessageTypeText && msgType != model.MessageTypeFile {
		msgType = model.MessageTypeText
	}

	msg := model.Message{
		ID:        id,
		Text:      field(1),
		Timestamp: field(2),
		Type:      msgType,
		Sender:    field(4),
	}
	// 文本消息不携带文件字段
	if msgType == model.MessageTypeFile {
		msg.FileName = field(5)
	}
	return msg, true
}
