package model

import "time"

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

type PreviewStatus string

const (
	PreviewPending   PreviewStatus = "pending"
	PreviewCompleted PreviewStatus = "completed"
	PreviewFailed    PreviewStatus = "failed"
)

// Message 是消息日志中持久化的唯一实体。
// 文本消息只有前五个字段；文件消息的Text保存原始文件名，
// FileName保存磁盘上的存储名，预览相关字段由媒体处理异步填写。
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`

	FileName        string        `json:"fileName,omitempty"`
	PreviewFileName string        `json:"previewFileName,omitempty"`
	PreviewStatus   PreviewStatus `json:"previewStatus,omitempty"`
}

func (m *Message) IsFile() bool {
	return m.Type == MessageTypeFile
}

// CreatedAt 解析消息的RFC3339时间戳。解析失败返回零值时间，
// 调用方（清理任务）会把无法解析的消息当作刚过期处理。
func (m *Message) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.Timestamp)
}
