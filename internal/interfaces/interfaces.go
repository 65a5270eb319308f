package interfaces

import "go-chat-relay/internal/model"

// 推送通道上的一个客户端连接
type Client interface {
	ConnID() string
	QueueBytes(data []byte) error
	Close()
}

// 连接管理接口
// websocket.Hub和websocket.KafkaHub实现
type ConnectionManager interface {
	Register(client Client)
	Unregister(client Client)
	BroadcastEvent(event *model.Event) error
}
