// Package kafka 审计事件镜像到 Kafka
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"go.uber.org/zap"
)

// AuditEvent 写入 Kafka 的消息体
type AuditEvent struct {
	UserCode  string                 `json:"user_code"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuditProducer 同步发送审计事件，按用户码分区以保持单用户顺序
type AuditProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewConfig 生产者配置：等待全部副本确认
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewAuditProducer 连接 brokers 并创建生产者
func NewAuditProducer(brokers []string, topic string, logger *zap.Logger) (*AuditProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p := NewAuditProducerWith(producer, topic, logger)
	p.logger.Info("Kafka audit producer ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p, nil
}

// NewAuditProducerWith 使用已有的 SyncProducer，测试中传入 mocks
func NewAuditProducerWith(producer sarama.SyncProducer, topic string, logger *zap.Logger) *AuditProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditProducer{producer: producer, topic: topic, logger: logger}
}

// Publish 发送一条审计事件
func (p *AuditProducer) Publish(ctx context.Context, entry models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(AuditEvent{
		UserCode:  entry.UserCode,
		Action:    entry.Action,
		Data:      entry.Data,
		Timestamp: entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(entry.UserCode),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(entry.Action)},
		},
		Timestamp: entry.Timestamp,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send audit event: %w", err)
	}
	p.logger.Debug("Audit event mirrored",
		zap.String("action", entry.Action),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *AuditProducer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
