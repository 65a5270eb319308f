package model

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event 是推送通道上的广播载荷。
// 同一条消息的事件保证按因果顺序发出：created先于updated，updated先于deleted。
type Event struct {
	Kind    EventKind `json:"kind"`
	Message Message   `json:"message"`
}
