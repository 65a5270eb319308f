package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	// 数据根目录，消息日志和上传文件都存放在这里
	DataDir string `mapstructure:"data_dir"`
	// 上传文件大小上限（MB）
	MaxUploadSizeMB int64 `mapstructure:"max_upload_size_mb"`
}

type CleanupConfig struct {
	// 大文件判定阈值（MB），超过该大小按大文件保留策略处理
	LargeFileThresholdMB int64 `mapstructure:"large_file_threshold_mb"`
	// 大文件保留天数
	LargeFileRetentionDays int `mapstructure:"large_file_retention_days"`
	// 小文件保留天数
	SmallFileRetentionDays int `mapstructure:"small_file_retention_days"`
	// 文本消息保留天数
	TextRetentionDays int `mapstructure:"text_retention_days"`
	// 清理任务执行间隔（分钟）
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

type PreviewConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ffmpeg可执行文件路径，留空则查找PATH
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	// 单次预览生成的超时时间（秒）
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type WebSocketConfig struct {
	BroadcastBufferSize int `mapstructure:"broadcast_buffer_size"`
	ClientSendBuffer    int `mapstructure:"client_send_buffer"`
	// 重试相关配置
	EventRetryCount      int `mapstructure:"event_retry_count"`
	EventRetryIntervalMs int `mapstructure:"event_retry_interval_ms"`
}

type MessagingConfig struct {
	// "channel" 或 "kafka"
	Provider string      `mapstructure:"provider"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

var GlobalConfig Config

// 大文件判定阈值（字节）
func (c CleanupConfig) LargeFileThreshold() int64 {
	return c.LargeFileThresholdMB * 1024 * 1024
}

// 大文件保留时长
func (c CleanupConfig) LargeFileRetention() time.Duration {
	return time.Duration(c.LargeFileRetentionDays) * 24 * time.Hour
}

// 小文件保留时长
func (c CleanupConfig) SmallFileRetention() time.Duration {
	return time.Duration(c.SmallFileRetentionDays) * 24 * time.Hour
}

// 文本消息保留时长
func (c CleanupConfig) TextRetention() time.Duration {
	return time.Duration(c.TextRetentionDays) * 24 * time.Hour
}

// 清理任务执行间隔
func (c CleanupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// 上传文件大小上限（字节）
func (c StorageConfig) MaxUploadSize() int64 {
	return c.MaxUploadSizeMB * 1024 * 1024
}

// 预览生成超时
func (c PreviewConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("storage.data_dir", "data")
	viper.SetDefault("storage.max_upload_size_mb", 500)
	viper.SetDefault("cleanup.large_file_threshold_mb", 100)
	viper.SetDefault("cleanup.large_file_retention_days", 1)
	viper.SetDefault("cleanup.small_file_retention_days", 7)
	viper.SetDefault("cleanup.text_retention_days", 30)
	viper.SetDefault("cleanup.interval_minutes", 60)
	viper.SetDefault("preview.enabled", true)
	viper.SetDefault("preview.timeout_seconds", 120)
	viper.SetDefault("websocket.broadcast_buffer_size", 256)
	viper.SetDefault("websocket.client_send_buffer", 64)
	viper.SetDefault("websocket.event_retry_count", 3)
	viper.SetDefault("websocket.event_retry_interval_ms", 100)
	viper.SetDefault("messaging.provider", "channel")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.production", false)
}

func load(name string) error {
	// 获取项目根目录
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(filepath.Dir(filepath.Dir(b)))

	viper.SetConfigName(name)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.Join(basepath, "config"))
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

func Init() error {
	return load("config")
}

// 测试用的配置文件
func InitTest() error {
	return load("config.test")
}
