package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic 是任务事件默认写入的 Kafka 主题 / Redis 频道。
const DefaultTopic = "deepdistill.task-events"

// messageWriter 是 kafka.Writer 中用到的部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 把任务事件写入 Kafka，以任务 ID 作为消息键，同一任务的事件落在同一分区。
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink 创建 Kafka 出口。
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

// Publish 序列化事件并写入主题。
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	msg, err := kafkaMessage(ev)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close 关闭底层的 writer。
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func kafkaMessage(ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.TaskID),
		Value: payload,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}
