package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "auction.notifications" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "event_id" || string(msg.Headers[0].Value) != "evt-1" {
			return errors.New("missing event_id header")
		}
		return nil
	})

	p := NewKafkaPublisherWithProducer(producer)
	require.NoError(t, p.Publish(context.Background(), &Message{
		Topic: "auction.notifications",
		Key:   "42",
		ID:    "evt-1",
		Value: []byte(`{"event_type":"won"}`),
	}))
	require.NoError(t, p.Close())
}

func TestKafkaPublisherPublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer)
	err := p.Publish(context.Background(), &Message{Topic: "auction.notifications", Key: "1", Value: []byte("{}")})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher()
	require.NoError(t, p.Publish(context.Background(), &Message{Topic: "t", Key: "k", ID: "e", Value: []byte("v")}))
	require.NoError(t, p.Close())
}
