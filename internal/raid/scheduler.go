package raid

import (
	"context"
	"sync"
	"time"
)

// TaskFunc runs one timer-driven step for a raid.
type TaskFunc func(ctx context.Context)

type scheduledTask struct {
	sequence int64
	cancel   context.CancelFunc
}

// Scheduler owns the timers of active raids: one recurring poll plus one
// one-shot expiry per raid, both cancellable by raid id. Cancellation is
// best effort; a timer that fires after its raid finished hits the
// record-absent no-op path and is harmless.
type Scheduler struct {
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	tasks        map[string]scheduledTask
	nextSequence int64
	wg           sync.WaitGroup
}

// NewScheduler constructs an empty scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]scheduledTask),
	}
}

// Arm starts the poll ticker and expiry timer for a raid. Arming an id that
// is already armed replaces the previous timers.
func (s *Scheduler) Arm(raidID string, pollEvery, expireAfter time.Duration, poll, expire TaskFunc) {
	taskCtx, taskCancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.nextSequence++
	sequence := s.nextSequence
	if previous, ok := s.tasks[raidID]; ok {
		previous.cancel()
	}
	s.tasks[raidID] = scheduledTask{sequence: sequence, cancel: taskCancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(raidID, sequence)

		ticker := time.NewTicker(pollEvery)
		defer ticker.Stop()
		expiry := time.NewTimer(expireAfter)
		defer expiry.Stop()

		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				poll(taskCtx)
			case <-expiry.C:
				expire(taskCtx)
				return
			}
		}
	}()
}

// Cancel stops both timers for a raid. Unknown ids are a no-op.
func (s *Scheduler) Cancel(raidID string) {
	s.mu.Lock()
	task, ok := s.tasks[raidID]
	if ok {
		delete(s.tasks, raidID)
	}
	s.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// Shutdown cancels every outstanding timer and waits for the task
// goroutines to drain.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// Active returns the number of armed raids.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// remove clears the registration only if it still belongs to this task, so
// a re-armed raid is not unregistered by its predecessor winding down.
func (s *Scheduler) remove(raidID string, sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tasks[raidID]; ok && current.sequence == sequence {
		delete(s.tasks, raidID)
	}
}
