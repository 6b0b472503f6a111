package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	acks      []bool
	confirms  chan amqp.Confirmation
	published []amqp.Publishing
	keys      []string
	failNext  error
	// withhold suppresses the confirmations of the next n publishes.
	withhold int
}

func newFakeChannel(acks ...bool) *fakeChannel {
	return &fakeChannel{acks: acks, confirms: make(chan amqp.Confirmation, 8)}
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	if f.withhold > 0 {
		f.withhold--
		return nil
	}
	ack := true
	if len(f.acks) > 0 {
		ack, f.acks = f.acks[0], f.acks[1:]
	}
	f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: ack}
	return nil
}

func (f *fakeChannel) GetNextPublishSeqNo() uint64 { return uint64(len(f.published) + 1) }

func (f *fakeChannel) Close() error { return nil }

func TestPublishWrapsPayloadInEnvelope(t *testing.T) {
	ch := newFakeChannel()
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	var ctx context.Context
	middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	err := p.Publish(ctx, "borrowing.created", map[string]string{"borrowing_id": "b-1"})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "borrowing.created", ch.keys[0])

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Body, &env))
	assert.Equal(t, msg.MessageId, env.EventID)
	assert.Equal(t, "borrowing.created", env.EventType)
	assert.Equal(t, eventVersion, env.EventVersion)
	assert.NotEmpty(t, env.CorrelationID)
	assert.JSONEq(t, `{"borrowing_id":"b-1"}`, string(env.Payload))
}

func TestPublishRetriesUnackedEvents(t *testing.T) {
	ch := newFakeChannel(false, true)
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "fine.paid", struct{}{}))
	assert.Len(t, ch.published, 2)
}

func TestPublishRetriesChannelErrors(t *testing.T) {
	ch := newFakeChannel()
	ch.failNext = errors.New("channel busy")
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "fine.assessed", struct{}{}))
	assert.Len(t, ch.published, 1)
}

func TestPublishGivesUp(t *testing.T) {
	ch := newFakeChannel(false, false, false, false)
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	err := p.Publish(context.Background(), "borrowing.returned", struct{}{})
	require.ErrorIs(t, err, errNotAcked)
	assert.Len(t, ch.published, maxRetries)
}

func TestPublishStopsWhenConfirmsClose(t *testing.T) {
	confirms := make(chan amqp.Confirmation)
	close(confirms)
	ch := newFakeChannel()
	p := newPublisher(noConfirm{ch}, confirms, zap.NewNop())

	err := p.Publish(context.Background(), "borrowing.renewed", struct{}{})
	require.ErrorIs(t, err, amqp.ErrClosed)
	assert.Len(t, ch.published, 1)
}

func TestPublishIgnoresLateConfirmations(t *testing.T) {
	ch := newFakeChannel()
	ch.withhold = 1
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Publish(ctx, "borrowing.created", struct{}{}), context.DeadlineExceeded)

	// The broker acks the abandoned message after the caller gave up.
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

	ch.acks = []bool{false, false, false}
	err := p.Publish(context.Background(), "borrowing.returned", struct{}{})
	require.ErrorIs(t, err, errNotAcked)
	assert.Len(t, ch.published, 1+maxRetries)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	ch := newFakeChannel()
	p := newPublisher(ch, ch.confirms, zap.NewNop())

	err := p.Publish(context.Background(), "fine.paid", make(chan int))
	require.Error(t, err)
	assert.Empty(t, ch.published)
}

// noConfirm records publishes without producing confirmations.
type noConfirm struct{ *fakeChannel }

func (n noConfirm) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	n.published = append(n.published, msg)
	return nil
}
