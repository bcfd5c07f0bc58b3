package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWithLockSkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(NewKeys(""))
	lock := NewJobLock(s, quietLogger())

	outer, err := lock.WithLock(ctx, "bf:lock:a", time.Minute, func(ctx context.Context) error {
		inner, err := lock.WithLock(ctx, "bf:lock:a", time.Minute, func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		assert.False(t, inner)
		return err
	})
	require.NoError(t, err)
	assert.True(t, outer)

	// 执行完成后租约已释放
	again, err := lock.WithLock(ctx, "bf:lock:a", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRunOnce(t *testing.T) {
	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t).(LeaseStore)
			lock := NewJobLock(s, quietLogger())

			calls := 0
			job := func(context.Context) error { calls++; return nil }

			ran, err := lock.RunOnce(ctx, "bf:done:x", "bf:lock:x", time.Minute, time.Hour, job)
			require.NoError(t, err)
			assert.True(t, ran)

			ran, err = lock.RunOnce(ctx, "bf:done:x", "bf:lock:x", time.Minute, time.Hour, job)
			require.NoError(t, err)
			assert.False(t, ran)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRunOnceFailureLeavesDoneUnset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(NewKeys(""))
	lock := NewJobLock(s, quietLogger())

	boom := errors.New("boom")
	ran, err := lock.RunOnce(ctx, "bf:done:y", "bf:lock:y", time.Minute, time.Hour, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	done, _ := s.HasFlag(ctx, "bf:done:y")
	assert.False(t, done)

	ran, err = lock.RunOnce(ctx, "bf:done:y", "bf:lock:y", time.Minute, time.Hour, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
