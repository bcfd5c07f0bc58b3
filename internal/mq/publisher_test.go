package mq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmation struct {
	done  chan struct{}
	acked bool
}

func newFakeConfirmation() *fakeConfirmation {
	return &fakeConfirmation{done: make(chan struct{})}
}

func (f *fakeConfirmation) resolve(acked bool) {
	f.acked = acked
	close(f.done)
}

func (f *fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.acked, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (f *fakeConfirmation) Done() <-chan struct{} { return f.done }

func (f *fakeConfirmation) Acked() bool { return f.acked }

type nackRecorder struct {
	ids chan string
}

func (r *nackRecorder) taken() []string {
	var out []string
	for {
		select {
		case id := <-r.ids:
			out = append(out, id)
		default:
			return out
		}
	}
}

func newTestPublisher(chClosed *atomic.Bool) (*Publisher, *nackRecorder) {
	rec := &nackRecorder{ids: make(chan string, 8)}
	p := &Publisher{
		chClosed:       chClosed.Load,
		confirmTimeout: 20 * time.Millisecond,
		onNack:         func(id string) { rec.ids <- id },
		onReturn:       func(string) {},
		logger:         testutil.Logger(),
		closed:         make(chan struct{}),
	}
	return p, rec
}

func TestAwaitMapsConfirmation(t *testing.T) {
	tests := []struct {
		name     string
		acked    bool
		chClosed bool
		want     interfaces.PublishOutcome
	}{
		{name: "broker ack", acked: true, want: interfaces.PublishAcked},
		{name: "broker nack", acked: false, want: interfaces.PublishNacked},
		{name: "channel closed before confirm", acked: false, chClosed: true, want: interfaces.PublishUnknown},
		{name: "ack survives channel close", acked: true, chClosed: true, want: interfaces.PublishAcked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closed atomic.Bool
			closed.Store(tt.chClosed)
			p, rec := newTestPublisher(&closed)

			dc := newFakeConfirmation()
			dc.resolve(tt.acked)

			assert.Equal(t, tt.want, p.await(context.Background(), "trace-1", dc))
			p.wg.Wait()
			assert.Empty(t, rec.taken(), "同步拿到结果时不走迟到补偿")
		})
	}
}

func TestAwaitTimeoutThenLateNack(t *testing.T) {
	var closed atomic.Bool
	p, rec := newTestPublisher(&closed)
	dc := newFakeConfirmation()

	require.Equal(t, interfaces.PublishUnknown, p.await(context.Background(), "trace-late", dc))

	dc.resolve(false)
	p.wg.Wait()
	assert.Equal(t, []string{"trace-late"}, rec.taken())
}

func TestAwaitTimeoutThenLateAck(t *testing.T) {
	var closed atomic.Bool
	p, rec := newTestPublisher(&closed)
	dc := newFakeConfirmation()

	require.Equal(t, interfaces.PublishUnknown, p.await(context.Background(), "trace-ack", dc))

	dc.resolve(true)
	p.wg.Wait()
	assert.Empty(t, rec.taken())
}

func TestAwaitTimeoutThenChannelClosed(t *testing.T) {
	var closed atomic.Bool
	p, rec := newTestPublisher(&closed)
	dc := newFakeConfirmation()

	require.Equal(t, interfaces.PublishUnknown, p.await(context.Background(), "trace-closed", dc))

	// channel 关闭时库先置关闭标记，再把未确认的消息全部 nack
	closed.Store(true)
	dc.resolve(false)
	p.wg.Wait()
	assert.Empty(t, rec.taken(), "channel 关闭导致的 nack 不能释放库存")
}

func TestAwaitStopsWaitingAfterClose(t *testing.T) {
	var closed atomic.Bool
	p, rec := newTestPublisher(&closed)
	dc := newFakeConfirmation()

	require.Equal(t, interfaces.PublishUnknown, p.await(context.Background(), "trace-shutdown", dc))

	close(p.closed)
	p.wg.Wait()
	assert.Empty(t, rec.taken())
}
