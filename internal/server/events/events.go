// Package events publishes authentication lifecycle events as CloudEvents.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeUserRegistered    = "auth.user.registered"
	TypeUserLoggedIn      = "auth.user.logged_in"
	TypeEmailVerified     = "auth.user.email_verified"
	TypeUserStatusChanged = "auth.user.status_changed"
	TypeSessionRevoked    = "auth.session.revoked"
	TypeTokenRefreshed    = "auth.token.refreshed"
)

// CloudEvent is the structured-mode CloudEvents 1.0 envelope.
type CloudEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"contenttype"`
	Data        json.RawMessage `json:"data"`
}

// Publisher emits an event about subject (usually a user id).
type Publisher interface {
	Publish(ctx context.Context, eventType, subject string, data any) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	source string
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic, source string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: writer, source: source, now: time.Now}
}

// Publish writes one message keyed by subject, so events of one user keep
// their order within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error encoding event data: %w", err)
	}

	event := CloudEvent{
		ID:          uuid.NewString(),
		Source:      p.source,
		SpecVersion: "1.0",
		Type:        eventType,
		Time:        p.now().UTC(),
		Subject:     subject,
		ContentType: "application/json",
		Data:        payload,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(event.ID)},
			{Key: "ce_type", Value: []byte(event.Type)},
			{Key: "ce_source", Value: []byte(event.Source)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka error: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error {
	return nil
}
