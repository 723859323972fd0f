package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// mailEvent es el payload que consume el worker de correo.
type mailEvent struct {
	Message
	QueuedAt time.Time `json:"queued_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publica los correos en un topic para que otro servicio los
// entregue.
type KafkaSender struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		now: time.Now,
	}, nil
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("to email is required")
	}
	payload, err := json.Marshal(mailEvent{Message: msg, QueuedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
	})
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
