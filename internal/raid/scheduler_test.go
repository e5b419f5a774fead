package raid

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSchedulerPollsUntilExpiry(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Shutdown()

	var polls, expiries atomic.Int64
	scheduler.Arm("raid-1", 10*time.Millisecond, 100*time.Millisecond,
		func(ctx context.Context) { polls.Add(1) },
		func(ctx context.Context) { expiries.Add(1) })

	waitFor(t, 2*time.Second, func() bool { return expiries.Load() == 1 })
	if polls.Load() == 0 {
		t.Fatalf("expected at least one poll before expiry")
	}
	waitFor(t, time.Second, func() bool { return scheduler.Active() == 0 })

	// The expiry timer fires once and the task winds down.
	settled := polls.Load()
	time.Sleep(50 * time.Millisecond)
	if polls.Load() != settled {
		t.Fatalf("expected polling to stop after expiry")
	}
	if expiries.Load() != 1 {
		t.Fatalf("expected a single expiry, got %d", expiries.Load())
	}
}

func TestSchedulerCancelStopsTimers(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Shutdown()

	var polls, expiries atomic.Int64
	scheduler.Arm("raid-1", 10*time.Millisecond, 50*time.Millisecond,
		func(ctx context.Context) { polls.Add(1) },
		func(ctx context.Context) { expiries.Add(1) })

	scheduler.Cancel("raid-1")
	waitFor(t, time.Second, func() bool { return scheduler.Active() == 0 })

	time.Sleep(80 * time.Millisecond)
	if expiries.Load() != 0 {
		t.Fatalf("expected no expiry after cancellation, got %d", expiries.Load())
	}
}

func TestSchedulerCancelUnknownIDIsNoOp(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Shutdown()
	scheduler.Cancel("never-armed")
}

func TestSchedulerRearmReplacesPreviousTimers(t *testing.T) {
	scheduler := NewScheduler()
	defer scheduler.Shutdown()

	var firstExpiry, secondExpiry atomic.Int64
	scheduler.Arm("raid-1", time.Hour, time.Hour,
		func(ctx context.Context) {},
		func(ctx context.Context) { firstExpiry.Add(1) })
	scheduler.Arm("raid-1", time.Hour, 30*time.Millisecond,
		func(ctx context.Context) {},
		func(ctx context.Context) { secondExpiry.Add(1) })

	if scheduler.Active() != 1 {
		t.Fatalf("expected a single armed raid after re-arm, got %d", scheduler.Active())
	}

	waitFor(t, 2*time.Second, func() bool { return secondExpiry.Load() == 1 })
	if firstExpiry.Load() != 0 {
		t.Fatalf("expected replaced timers never to fire")
	}
	waitFor(t, time.Second, func() bool { return scheduler.Active() == 0 })
}

func TestSchedulerShutdownDrainsTasks(t *testing.T) {
	scheduler := NewScheduler()

	var expiries atomic.Int64
	for _, id := range []string{"a", "b", "c"} {
		scheduler.Arm(id, time.Hour, time.Hour,
			func(ctx context.Context) {},
			func(ctx context.Context) { expiries.Add(1) })
	}
	if scheduler.Active() != 3 {
		t.Fatalf("expected 3 armed raids, got %d", scheduler.Active())
	}

	scheduler.Shutdown()
	if expiries.Load() != 0 {
		t.Fatalf("expected shutdown to stop timers without firing them")
	}
}
