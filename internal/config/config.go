// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	Session       SessionConfig       `mapstructure:"session"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Persistence   PersistenceConfig   `mapstructure:"persistence"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。Secret 为空时聊天接口不做鉴权，管理接口不注册。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发布轮次事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空时不建立索引。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时禁用对话导出。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Region          string `mapstructure:"region"`
	PresignHours    int    `mapstructure:"presign_hours"`
}

// WorkflowConfig 对应外部决策工作流（n8n router）的调用参数。
type WorkflowConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// FallbackModel 仅作保留，降级回复始终由本地合成。
	FallbackModel string `mapstructure:"fallback_model"`
	DebugMode     bool   `mapstructure:"debug_mode"`
}

// SessionConfig 存储会话分层缓存相关的配置。
type SessionConfig struct {
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	ReapIntervalSeconds int    `mapstructure:"reap_interval_seconds"`
	MaxLocalEntries     int    `mapstructure:"max_local_entries"`
	KeyPrefix           string `mapstructure:"key_prefix"`
}

// StreamConfig 控制流式输出的节奏（毫秒）。
type StreamConfig struct {
	WordDelayMs         int `mapstructure:"word_delay_ms"`
	FallbackWordDelayMs int `mapstructure:"fallback_word_delay_ms"`
}

// PersistenceConfig 控制后台持久化队列。
type PersistenceConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Timeout 返回工作流调用的截止时长。
func (c WorkflowConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IdleTimeout 返回会话空闲超时时长。
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReapInterval 返回清理周期，未配置时与空闲超时一致。
func (c SessionConfig) ReapInterval() time.Duration {
	if c.ReapIntervalSeconds <= 0 {
		return c.IdleTimeout()
	}
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "kenny.turns")
	v.SetDefault("elasticsearch.index_name", "kenny_turns")
	v.SetDefault("minio.bucket_name", "kenny-transcripts")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.presign_hours", 1)
	v.SetDefault("workflow.webhook_url", "http://host.docker.internal:5678/webhook/kenny-router")
	v.SetDefault("workflow.timeout_seconds", 30)
	v.SetDefault("workflow.fallback_model", "qwen2.5:7b-instruct")
	v.SetDefault("workflow.debug_mode", true)
	v.SetDefault("session.timeout_seconds", 3600)
	v.SetDefault("session.reap_interval_seconds", 0)
	v.SetDefault("session.max_local_entries", 10000)
	v.SetDefault("session.key_prefix", "kenny:session:")
	v.SetDefault("stream.word_delay_ms", 20)
	v.SetDefault("stream.fallback_word_delay_ms", 10)
	v.SetDefault("persistence.workers", 2)
	v.SetDefault("persistence.queue_size", 256)
}

// Load 读取指定路径的 YAML 文件，叠加默认值与 KENNY_ 前缀的环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KENNY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，结果写入全局 Conf。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
