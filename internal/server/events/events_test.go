package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisher(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "auth-events", "waterauth")

	require.NotNil(t, p.writer)
	assert.Equal(t, "waterauth", p.source)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "auth-events", w.Topic)
}

func TestPublish_WritesCloudEvent(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &KafkaPublisher{writer: w, source: "waterauth", now: func() time.Time { return at }}

	err := p.Publish(context.Background(), TypeUserLoggedIn, "user-1", map[string]string{"method": "password"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))

	var ev CloudEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, TypeUserLoggedIn, ev.Type)
	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, "user-1", ev.Subject)
	assert.True(t, at.Equal(ev.Time))
	assert.JSONEq(t, `{"method":"password"}`, string(ev.Data))
	assert.NotEmpty(t, ev.ID)
}

func TestPublish_WriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}, source: "s", now: time.Now}

	err := p.Publish(context.Background(), TypeSessionRevoked, "u", nil)
	assert.ErrorIs(t, err, boom)
}

func TestPublish_BadData(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{}, source: "s", now: time.Now}

	err := p.Publish(context.Background(), TypeSessionRevoked, "u", make(chan int))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), "x", "y", nil))
}
