package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"BadmintonFlash/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron", time.UTC, testutil.Logger())
	assert.Error(t, err)
}

func TestRunNowKeepsOrderAndSurvivesErrors(t *testing.T) {
	var order []string
	jobs := []Job{
		{Name: "generate", Run: func(context.Context) error { order = append(order, "generate"); return nil }},
		{Name: "warmup", Run: func(context.Context) error { order = append(order, "warmup"); return errors.New("boom") }},
		{Name: "open-gate", Run: func(context.Context) error { order = append(order, "open-gate"); return nil }},
	}
	s, err := New("* * * * *", time.UTC, testutil.Logger(), jobs...)
	require.NoError(t, err)
	s.RunNow(context.Background())
	assert.Equal(t, []string{"generate", "warmup", "open-gate"}, order)
}

func TestJobTimeout(t *testing.T) {
	var deadline bool
	s, err := New("* * * * *", time.UTC, testutil.Logger(), Job{
		Name:    "reaper",
		Timeout: time.Second,
		Run: func(ctx context.Context) error {
			_, deadline = ctx.Deadline()
			return nil
		},
	})
	require.NoError(t, err)
	s.RunNow(context.Background())
	assert.True(t, deadline)
}

func TestStartStop(t *testing.T) {
	s, err := New("@every 1h", time.UTC, testutil.Logger(), Job{Name: "noop", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestKvFields(t *testing.T) {
	f := kvFields([]interface{}{"entry", 1, "next", "x", "dangling"})
	assert.Equal(t, 1, f["entry"])
	assert.Equal(t, "x", f["next"])
	assert.Len(t, f, 2)
}
