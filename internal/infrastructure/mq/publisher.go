package mq

//go:generate mockgen -source=publisher.go -destination=mock_publisher.go -package=mq

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Message 一条待投递的通知
// ID 为事件唯一标识，broker 支持时用于去重；Key 决定分区或 subject
type Message struct {
	Topic string
	Key   string
	ID    string
	Value []byte
}

// Publisher 通知投递通道，投递成功才返回 nil
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// LogPublisher 只打日志，本地开发时使用
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(_ context.Context, msg *Message) error {
	log.WithFields(log.Fields{
		"topic":    msg.Topic,
		"key":      msg.Key,
		"event_id": msg.ID,
	}).Info(string(msg.Value))
	return nil
}

func (LogPublisher) Close() error { return nil }
