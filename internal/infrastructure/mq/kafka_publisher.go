package mq

import (
	"context"
	"fmt"

	"fanbid/internal/config"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 初始化 Kafka 生产者
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka 生产者创建成功")
	return NewKafkaPublisherWithProducer(producer), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

// Publish 以用户ID为 key，同一用户的通知落在同一分区保持顺序
// 事件ID 放在 event_id 头里，供消费端去重
func (p *KafkaPublisher) Publish(_ context.Context, msg *Message) error {
	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
	}
	if msg.ID != "" {
		pm.Headers = []sarama.RecordHeader{{Key: []byte("event_id"), Value: []byte(msg.ID)}}
	}

	_, _, err := p.producer.SendMessage(pm)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
