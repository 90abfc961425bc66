package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSubscriber consumes one partition of a Kafka topic that mirrors the
// event log. Replay-since is implemented by seeking to the first offset at
// or after since. Heartbeats are records with a "type: heartbeat" header or a
// heartbeat JSON body.
type KafkaSubscriber struct {
	Brokers   []string
	Topic     string
	Partition int
}

func (k *KafkaSubscriber) Subscribe(ctx context.Context, since time.Time) (Stream, error) {
	if len(k.Brokers) == 0 || k.Topic == "" {
		return nil, fmt.Errorf("kafka subscriber needs brokers and topic")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.Brokers,
		Topic:     k.Topic,
		Partition: k.Partition,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   500 * time.Millisecond,
	})
	if !since.IsZero() {
		if err := r.SetOffsetAt(ctx, since); err != nil {
			r.Close()
			return nil, fmt.Errorf("seek %s to %s: %w", k.Topic, since.Format(time.RFC3339), err)
		}
	} else if err := r.SetOffset(kafka.LastOffset); err != nil {
		r.Close()
		return nil, fmt.Errorf("seek %s to tail: %w", k.Topic, err)
	}
	sctx, cancel := context.WithCancel(context.Background())
	return &kafkaStream{reader: r, ctx: sctx, cancel: cancel}, nil
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaStream struct {
	reader    kafkaReader
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *kafkaStream) Recv() (Message, error) {
	m, err := s.reader.ReadMessage(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	return kafkaMessage(m), nil
}

func (s *kafkaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.reader.Close()
	})
	return err
}

func kafkaMessage(m kafka.Message) Message {
	topic := m.Topic
	for _, h := range m.Headers {
		switch strings.ToLower(h.Key) {
		case "type":
			if strings.EqualFold(string(h.Value), "heartbeat") {
				return Message{Heartbeat: true}
			}
		case "topic":
			topic = string(h.Value)
		}
	}
	return DecodeFrame(m.Value, topic)
}
