package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go-chat-relay/internal/interfaces"
	"go-chat-relay/internal/model"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ interfaces.Client = (*fakeClient)(nil)

// 内存中的假客户端连接
type fakeClient struct {
	id string

	mu       sync.Mutex
	received [][]byte
	full     bool
	closed   bool
}

func (c *fakeClient) ConnID() string { return c.id }

func (c *fakeClient) QueueBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("client send buffer full")
	}
	c.received = append(c.received, data)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func setupHub(t *testing.T) *Hub {
	t.Helper()
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if logger.L == nil {
		require.NoError(t, logger.InitLogger("error", false))
	}
	hub := NewHub()
	go hub.Run()
	return hub
}

func TestHub_BroadcastsEventToAllClients(t *testing.T) {
	hub := setupHub(t)

	c1 := &fakeClient{id: "conn-1"}
	c2 := &fakeClient{id: "conn-2"}
	hub.Register(c1)
	hub.Register(c2)

	event := &model.Event{
		Kind: model.EventCreated,
		Message: model.Message{
			ID: "id-1", Text: "hi", Timestamp: "2024-01-02T03:04:05Z",
			Type: model.MessageTypeText, Sender: "alice",
		},
	}
	require.NoError(t, hub.BroadcastEvent(event))

	require.Eventually(t, func() bool {
		return c1.count() == 1 && c2.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	var decoded model.Event
	c1.mu.Lock()
	data := c1.received[0]
	c1.mu.Unlock()
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, model.EventCreated, decoded.Kind)
	assert.Equal(t, "id-1", decoded.Message.ID)
}

func TestHub_UnregisteredClientReceivesNothing(t *testing.T) {
	hub := setupHub(t)

	c := &fakeClient{id: "conn-1"}
	hub.Register(c)
	hub.Unregister(c)

	require.Eventually(t, c.isClosed, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.BroadcastEvent(&model.Event{
		Kind:    model.EventDeleted,
		Message: model.Message{ID: "id-x"},
	}))

	// 给广播循环一点时间，确认没有投递
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, c.count())
}

func TestHub_DropsClientAfterRetriesExhausted(t *testing.T) {
	hub := setupHub(t)

	stuck := &fakeClient{id: "conn-stuck", full: true}
	healthy := &fakeClient{id: "conn-ok"}
	hub.Register(stuck)
	hub.Register(healthy)

	require.NoError(t, hub.BroadcastEvent(&model.Event{
		Kind:    model.EventCreated,
		Message: model.Message{ID: "id-1"},
	}))

	// 重试耗尽后卡住的连接被关闭，健康的连接正常收到事件
	require.Eventually(t, stuck.isClosed, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return healthy.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
