package websocket

import (
	"errors"
	"sync"
	"time"

	"go-chat-relay/internal/interfaces"
	"go-chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second    // 写超时
	pongWait   = 60 * time.Second    // 等待pong的最大时间
	pingPeriod = (pongWait * 9) / 10 // 发送ping的周期
)

// Client 表示一个订阅事件推送的WebSocket连接。
// 连接是匿名的，用随机ID区分。客户端通过HTTP接口发消息，
// WebSocket方向只做服务端到客户端的事件推送。
type Client struct {
	connID  string
	conn    *websocket.Conn
	send    chan []byte
	manager interfaces.ConnectionManager

	mu     sync.Mutex
	closed bool
}

func NewClient(connID string, conn *websocket.Conn, manager interfaces.ConnectionManager, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Client{
		connID:  connID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		manager: manager,
	}
}

func (c *Client) ConnID() string {
	return c.connID
}

// QueueBytes 把事件数据放进发送队列。
// 队列已满或连接已关闭时返回错误，由Hub决定重试或断开。
func (c *Client) QueueBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

// Close 关闭发送队列。只能由管理该连接的Hub调用一次。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump 读取并丢弃入站数据，只为处理pong和关闭帧。
// 连接断开时负责向Hub注销。
func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L.Warn("Unexpected close error", zap.String("connID", c.connID), zap.Error(err))
			}
			return
		}
		// 入站内容忽略：消息发布走HTTP接口
	}
}

// WritePump 把发送队列中的事件写到连接上，并定期发送ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// 发送队列已被Hub关闭
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.L.Warn("Failed to write event", zap.String("connID", c.connID), zap.Error(err))
				return
			}

			// 顺带写掉队列里积压的事件
			n := len(c.send)
			for i := 0; i < n; i++ {
				batch, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, batch); err != nil {
					logger.L.Warn("Failed to write batched event", zap.String("connID", c.connID), zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
