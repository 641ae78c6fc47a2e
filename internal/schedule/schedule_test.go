package schedule

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/logging"
)

func TestNew_InvalidExpression(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "61 * * * *", "* * * * * *"} {
		_, err := New(expr, func(context.Context) error { return nil }, logging.Discard())
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "%q: %v", expr, err)
	}
}

func TestNew_AcceptsDescriptors(t *testing.T) {
	for _, expr := range []string{"0 */6 * * *", "@hourly", "@every 6h"} {
		_, err := New(expr, func(context.Context) error { return nil }, logging.Discard())
		assert.NoError(t, err, expr)
	}
}

func TestScheduler_NextAfterStart(t *testing.T) {
	s, err := New("@every 1h", func(context.Context) error { return nil }, logging.Discard())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero(), "not scheduled before Start")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32

	s, err := New("@every 1h", func(context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}, logging.Discard())
	require.NoError(t, err)

	wrapped := s.cron.Entry(s.entry).WrappedJob
	done := make(chan struct{})
	go func() {
		wrapped.Run()
		close(done)
	}()
	<-started

	// The first run is still blocked, so this tick is dropped.
	wrapped.Run()
	close(release)
	<-done

	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduler_JobErrorAndPanicAreContained(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@every 1h", func(context.Context) error {
		if calls.Add(1) == 1 {
			return stderrors.New("remote down")
		}
		panic("boom")
	}, logging.Discard())
	require.NoError(t, err)

	wrapped := s.cron.Entry(s.entry).WrappedJob
	wrapped.Run()
	assert.NotPanics(t, wrapped.Run)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s, err := New("@every 1h", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	finished := make(chan struct{})
	go func() {
		s.run()
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not observe cancellation")
	}
}

func TestScheduler_RestartCancelsPreviousContext(t *testing.T) {
	s, err := New("@every 1h", func(context.Context) error { return nil }, logging.Discard())
	require.NoError(t, err)
	s.Stop() // before Start

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.mu.Lock()
	first := s.ctx
	s.mu.Unlock()

	s.Start(ctx)
	defer s.Stop()

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first job context still live after restart")
	}
	s.mu.Lock()
	assert.NoError(t, s.ctx.Err(), "current context is live")
	s.mu.Unlock()
}
