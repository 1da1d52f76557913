package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestScheduler_RunsAtStartupAndOnTicks(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler("import", func(context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond, quietLogger())

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
	assert.Equal(t, int(stopped), s.Runs())
}

func TestScheduler_FailuresDoNotStopSchedule(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler("import", func(context.Context) error {
		calls.Add(1)
		return errors.New("file locked")
	}, 10*time.Millisecond, quietLogger())

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once atomic.Bool

	s := NewScheduler("import", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}, time.Hour, quietLogger())

	s.Start(ctx)
	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// a second stop is a no-op
	s.Stop()
	assert.Equal(t, 1, s.Runs())
}
