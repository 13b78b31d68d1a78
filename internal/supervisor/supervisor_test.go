package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_TicksUntilCancelled(t *testing.T) {
	var count int32
	loop := Loop{
		Name:     "test-loop",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(discardLogger(), loop)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Greater(t, atomic.LoadInt32(&count), int32(0))
}

func TestSupervisor_TickErrorDoesNotStopLoop(t *testing.T) {
	var count int32
	loop := Loop{
		Name:     "erroring-loop",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return errors.New("tick failed")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(discardLogger(), loop)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Greater(t, atomic.LoadInt32(&count), int32(1))
}

func TestSupervisor_RunsMultipleLoopsIndependently(t *testing.T) {
	var countA, countB int32
	loopA := Loop{
		Name:     "a",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			atomic.AddInt32(&countA, 1)
			return nil
		},
	}
	loopB := Loop{
		Name:     "b",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			atomic.AddInt32(&countB, 1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(discardLogger(), loopA, loopB)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Greater(t, atomic.LoadInt32(&countA), int32(0))
	assert.Greater(t, atomic.LoadInt32(&countB), int32(0))
}

func TestSupervisor_NoLoopsReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(discardLogger())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with no loops")
	}
}
