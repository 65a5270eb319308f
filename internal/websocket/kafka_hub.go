package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go-chat-relay/internal/interfaces"
	"go-chat-relay/internal/model"
	"go-chat-relay/pkg/config"
	"go-chat-relay/pkg/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaHub 实现interfaces.ConnectionManager接口的Kafka版本。
// 事件先发布到Kafka，再由消费者分发给本地连接，
// 多个中继实例共用一个主题时可以共享同一条事件流。
type KafkaHub struct {
	clients    map[string]interfaces.Client
	clientsMu  sync.RWMutex
	producer   sarama.SyncProducer
	consumer   sarama.ConsumerGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	cfg *config.KafkaConfig
}

// 创建一个新的KafkaHub
func NewKafkaHub() (*KafkaHub, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &config.GlobalConfig.Messaging.Kafka

	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Return.Successes = true
	kConfig.Producer.Retry.Max = 3
	kConfig.Consumer.Return.Errors = true
	kConfig.Version = sarama.V2_8_0_0 // 使用一个稳定版本

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka producer", zap.Error(err))
		cancel()
		return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
	}

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka consumer group", zap.Error(err))
		producer.Close()
		cancel()
		return nil, fmt.Errorf("failed to start Kafka consumer group: %w", err)
	}

	return &KafkaHub{
		clients:    make(map[string]interfaces.Client),
		producer:   producer,
		consumer:   consumer,
		ctx:        ctx,
		cancelFunc: cancel,
		cfg:        cfg,
	}, nil
}

func (h *KafkaHub) StartConsumer() {
	go h.consumeEvents()
}

// 关闭KafkaHub
func (h *KafkaHub) Close() error {
	h.cancelFunc()

	if err := h.producer.Close(); err != nil {
		logger.L.Error("Failed to close Kafka producer", zap.Error(err))
	}
	if err := h.consumer.Close(); err != nil {
		logger.L.Error("Failed to close Kafka consumer group", zap.Error(err))
	}

	return nil
}

// Register 在Hub中注册客户端
func (h *KafkaHub) Register(client interfaces.Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.clients[client.ConnID()] = client
	logger.L.Info("Client registered with KafkaHub", zap.String("connID", client.ConnID()))
}

// Unregister 从Hub中注销客户端
func (h *KafkaHub) Unregister(client interfaces.Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if registered, ok := h.clients[client.ConnID()]; ok && registered == client {
		client.Close()
		delete(h.clients, client.ConnID())
		logger.L.Info("Client unregistered from KafkaHub", zap.String("connID", client.ConnID()))
	}
}

// 构建Kafka主题名称
func (h *KafkaHub) buildTopicName() string {
	return fmt.Sprintf("%s_events", h.cfg.TopicPrefix)
}

// BroadcastEvent 把事件发布到Kafka，由各实例的消费者分发给本地连接
func (h *KafkaHub) BroadcastEvent(event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		logger.L.Error("Failed to marshal event", zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: h.buildTopicName(),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := h.producer.SendMessage(kafkaMsg); err != nil {
		logger.L.Error("Failed to send event to Kafka", zap.Error(err))
		return fmt.Errorf("failed to send event to Kafka: %w", err)
	}

	logger.L.Debug("Event sent to Kafka",
		zap.String("kind", string(event.Kind)),
		zap.String("messageID", event.Message.ID))
	return nil
}

// 消费Kafka事件
func (h *KafkaHub) consumeEvents() {
	handler := &kafkaConsumerHandler{hub: h}
	topics := []string{h.buildTopicName()}

	for {
		select {
		case <-h.ctx.Done():
			logger.L.Info("Stopping Kafka consumer")
			return
		default:
			if err := h.consumer.Consume(h.ctx, topics, handler); err != nil {
				logger.L.Error("Kafka consumer error", zap.Error(err))
				time.Sleep(5 * time.Second) // 失败时等待一段时间再重试
			}
		}
	}
}

// 把事件数据推给所有本地连接
func (h *KafkaHub) fanOut(data []byte) {
	h.clientsMu.RLock()
	targets := make([]interfaces.Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.clientsMu.RUnlock()

	for _, client := range targets {
		if err := client.QueueBytes(data); err != nil {
			logger.L.Warn("Failed to queue event to client",
				zap.String("connID", client.ConnID()),
				zap.Error(err))
		}
	}
}

// Kafka消费者处理器
type kafkaConsumerHandler struct {
	hub *KafkaHub
}

// Setup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实现sarama.ConsumerGroupHandler接口
func (h *kafkaConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		// 校验一下事件格式，坏消息直接丢弃
		var event model.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.L.Error("Failed to unmarshal event from Kafka", zap.Error(err))
			session.MarkMessage(message, "")
			continue
		}

		h.hub.fanOut(message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}
