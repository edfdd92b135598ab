package mq

import (
	"context"
	"fmt"
	"time"

	"fanbid/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"
)

// NATSPublisher 投递到 JetStream，subject 为 {topic}.{key}
type NATSPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

func NewNATSPublisher(ctx context.Context, cfg *config.NATSConfig, topic string) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("fanbid-notifier"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 JetStream 失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{topic + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 stream 失败: %w", err)
	}

	log.WithFields(log.Fields{"url": cfg.URL, "stream": cfg.Stream}).Info("NATS JetStream 连接成功")
	return &NATSPublisher{conn: conn, js: js}, nil
}

// Publish 带 Nats-Msg-Id 头，重复投递同一事件时由 JetStream 在去重窗口内丢弃
func (p *NATSPublisher) Publish(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.js.PublishMsg(ctx, natsMessage(msg))
	return err
}

func natsMessage(msg *Message) *nats.Msg {
	m := nats.NewMsg(msg.Topic + "." + msg.Key)
	m.Data = msg.Value
	if msg.ID != "" {
		m.Header.Set(nats.MsgIdHdr, msg.ID)
	}
	return m
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
