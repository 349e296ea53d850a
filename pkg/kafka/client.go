// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"kenny-gateway/internal/config"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
}

// Enabled 返回生产者是否已初始化。
func Enabled() bool {
	return producer != nil
}

// PublishTurnEvent 发送一个轮次事件，以 session_id 作为消息键保证同一会话内有序。
// 生产者未初始化时直接返回。
func PublishTurnEvent(ctx context.Context, event tasks.TurnEvent) error {
	if producer == nil {
		return nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: b,
	})
}

// Close 关闭生产者。
func Close() error {
	if producer == nil {
		return nil
	}
	err := producer.Close()
	producer = nil
	return err
}
