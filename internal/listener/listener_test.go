package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/service"
	"BadmintonFlash/internal/testutil"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAck 记录 ack/nack 调用
type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked++
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

type persistFunc func(ctx context.Context, msg model.ReserveMessage) error

func (f persistFunc) Persist(ctx context.Context, msg model.ReserveMessage) error { return f(ctx, msg) }

type compensateFunc func(ctx context.Context, traceID, reason string) (bool, error)

func (f compensateFunc) Compensate(ctx context.Context, traceID, reason string) (bool, error) {
	return f(ctx, traceID, reason)
}

var fastRetry = RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func delivery(ack amqp.Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
}

const validBody = `{"userId":1,"slotId":2,"sessionId":3,"traceId":"t-1"}`

func TestReserveListenerAcksOnSuccess(t *testing.T) {
	var got model.ReserveMessage
	l := NewReserveListener(persistFunc(func(_ context.Context, msg model.ReserveMessage) error {
		got = msg
		return nil
	}), fastRetry, testutil.Logger())

	ack := &fakeAck{}
	l.Handle(context.Background(), delivery(ack, validBody))
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
	assert.Equal(t, model.ReserveMessage{UserID: 1, SlotID: 2, SessionID: 3, TraceID: "t-1"}, got)
}

func TestReserveListenerRetriesThenSucceeds(t *testing.T) {
	calls := 0
	l := NewReserveListener(persistFunc(func(context.Context, model.ReserveMessage) error {
		calls++
		if calls < 3 {
			return errors.New("db down")
		}
		return nil
	}), fastRetry, testutil.Logger())

	ack := &fakeAck{}
	l.Handle(context.Background(), delivery(ack, validBody))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, ack.acked)
}

func TestReserveListenerDeadLettersAfterRetries(t *testing.T) {
	calls := 0
	l := NewReserveListener(persistFunc(func(context.Context, model.ReserveMessage) error {
		calls++
		return errors.New("db down")
	}), fastRetry, testutil.Logger())

	ack := &fakeAck{}
	l.Handle(context.Background(), delivery(ack, validBody))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestReserveListenerPoisonNotRetried(t *testing.T) {
	calls := 0
	l := NewReserveListener(persistFunc(func(context.Context, model.ReserveMessage) error {
		calls++
		return fmt.Errorf("%w: missing", service.ErrPoisonMessage)
	}), fastRetry, testutil.Logger())

	ack := &fakeAck{}
	l.Handle(context.Background(), delivery(ack, `{"userId":1}`))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)

	ack = &fakeAck{}
	l.Handle(context.Background(), delivery(ack, `garbage`))
	assert.Equal(t, 1, calls, "undecodable body never reaches persistence")
	assert.Equal(t, 1, ack.nacked)
}

func TestReserveListenerTraceFromMessageID(t *testing.T) {
	var got string
	l := NewReserveListener(persistFunc(func(_ context.Context, msg model.ReserveMessage) error {
		got = msg.TraceID
		return nil
	}), fastRetry, testutil.Logger())

	d := delivery(&fakeAck{}, `{"userId":1,"slotId":2,"sessionId":3}`)
	d.MessageId = "from-id"
	l.Handle(context.Background(), d)
	assert.Equal(t, "from-id", got)
}

func TestReserveListenerRequeuesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewReserveListener(persistFunc(func(context.Context, model.ReserveMessage) error {
		cancel()
		return errors.New("interrupted")
	}), RetryPolicy{Attempts: 3, Initial: time.Second, Max: time.Second}, testutil.Logger())

	ack := &fakeAck{}
	l.Handle(ctx, delivery(ack, validBody))
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestDeadLetterListener(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewDeadLetterRepository(db)

	var compensated []string
	l := NewDeadLetterListener(compensateFunc(func(_ context.Context, traceID, reason string) (bool, error) {
		assert.Equal(t, service.ReasonDeadLetter, reason)
		compensated = append(compensated, traceID)
		return true, nil
	}), repo, testutil.Logger())

	ack := &fakeAck{}
	d := delivery(ack, validBody)
	d.Headers = amqp.Table{"x-death": []interface{}{amqp.Table{"reason": "rejected", "count": int64(1)}}}
	l.Handle(ctx, d)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, []string{"t-1"}, compensated)

	records, err := repo.ListByTrace(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rejected", records[0].Reason)
	assert.JSONEq(t, validBody, string(records[0].Payload))

	// 非 JSON 消息体也能留档
	ack = &fakeAck{}
	d = delivery(ack, "garbage")
	d.MessageId = "t-2"
	l.Handle(ctx, d)
	assert.Equal(t, 1, ack.acked)
	records, err = repo.ListByTrace(ctx, "t-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "unknown", records[0].Reason)
}

func TestDeadLetterListenerRequeuesOnCompensateError(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewDeadLetterListener(compensateFunc(func(context.Context, string, string) (bool, error) {
		return false, errors.New("redis down")
	}), repository.NewDeadLetterRepository(db), testutil.Logger())

	ack := &fakeAck{}
	l.Handle(context.Background(), delivery(ack, validBody))
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

type chanSource chan amqp.Delivery

func (c chanSource) Deliveries(context.Context) (<-chan amqp.Delivery, error) { return c, nil }

type countingHandler struct{ n int }

func (h *countingHandler) Handle(_ context.Context, d amqp.Delivery) {
	h.n++
	_ = d.Ack(false)
}

func TestQueueSubscriberRun(t *testing.T) {
	src := make(chanSource, 2)
	ack := &fakeAck{}
	src <- delivery(ack, validBody)
	src <- delivery(ack, validBody)
	close(src)

	h := &countingHandler{}
	err := NewQueueSubscriber("reserve.queue", src, h, testutil.Logger()).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, h.n)
	assert.Equal(t, 2, ack.acked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewQueueSubscriber("reserve.queue", make(chanSource), h, testutil.Logger()).Run(ctx)
	assert.NoError(t, err)
}
