package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/model"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(context.Context) (*model.RunSummary, error) {
	r.calls.Add(1)
	s := model.NewRunSummary("run", time.Now())
	s.Finish(time.Now(), r.err)
	return s, r.err
}

func TestScheduler_RunsImmediatelyAndStops(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Runs())
}

func TestScheduler_RunOnceToleratesFailure(t *testing.T) {
	runner := &countingRunner{err: errors.New("write failed")}
	s := New(runner, 0)

	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, DefaultInterval, s.interval)
}

func TestScheduler_RunOnceSkipsWhenCancelled(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnce(ctx)
	assert.Equal(t, int32(0), runner.calls.Load())
}
