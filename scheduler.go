package swarm

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs the loops and tasks of a Manager.
// Tasks of different bots run in parallel on a fixed worker pool, tasks of
// the same bot run one after another in the order they became due. Global
// tasks share one lane of their own. The tick loop never waits for a task
// or a loop, so a bot stuck in a send only holds up its own lane.
type Scheduler struct {
	log   *slog.Logger
	queue *taskQueue

	mu    sync.RWMutex
	loops []*loop

	// lanesMu protects lanes. A lane exists while a drain job runs for its
	// owner.
	lanesMu sync.Mutex
	lanes   map[*Bot][]*scheduledTask

	workers int
	jobs    chan func()
	idle    sync.WaitGroup
	busy    sync.WaitGroup

	running atomic.Bool
	stop    chan struct{}
	stopped chan struct{}

	tickRate time.Duration
	ticks    atomic.Uint64
}

// loop is a Runnable the scheduler runs at a fixed interval.
type loop struct {
	name     string
	task     Runnable
	interval time.Duration
	next     time.Time
	running  atomic.Bool
}

func (l *loop) due(now time.Time) bool {
	return l.interval == 0 || !now.Before(l.next)
}

// advance moves the next run one interval ahead of the previous one, or of
// now if the loop fell behind.
func (l *loop) advance(now time.Time) {
	if l.interval <= 0 {
		return
	}
	l.next = l.next.Add(l.interval)
	if l.next.Before(now) {
		l.next = now.Add(l.interval)
	}
}

// newScheduler creates a scheduler. A workers value below one uses
// GOMAXPROCS.
func newScheduler(log *slog.Logger, tickRate time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = max(runtime.GOMAXPROCS(0), 1)
	}
	if tickRate <= 0 {
		tickRate = 50 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:      log,
		queue:    newTaskQueue(),
		lanes:    make(map[*Bot][]*scheduledTask),
		workers:  workers,
		jobs:     make(chan func(), workers*4),
		tickRate: tickRate,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the workers and the tick loop. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return
	}
	s.idle.Add(s.workers)
	for range s.workers {
		go func() {
			defer s.idle.Done()
			for job := range s.jobs {
				job()
			}
		}()
	}
	go s.run()
}

// Stop waits for the running jobs to finish and drops every queued task.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stop)
	<-s.stopped

	s.busy.Wait()
	close(s.jobs)
	s.idle.Wait()
	s.queue.Clear()
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()

	// wake fires when the earliest task is due so delays are not rounded up
	// to the tick rate.
	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		s.armWake(wake)

		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.ticks.Add(1)
			s.runLoops(now)
			s.runDue(now)
		case <-s.queue.Notify():
			s.runDue(time.Now())
		case <-wake.C:
			s.runDue(time.Now())
		}
	}
}

func (s *Scheduler) armWake(wake *time.Timer) {
	next, ok := s.queue.Peek()
	if !ok {
		wake.Stop()
		return
	}
	wake.Reset(max(time.Until(next), 0))
}

// runLoops hands every due loop to a worker. A loop whose previous run has
// not finished yet skips this tick.
func (s *Scheduler) runLoops(now time.Time) {
	s.mu.RLock()
	loops := s.loops
	s.mu.RUnlock()

	for _, l := range loops {
		if !l.due(now) {
			continue
		}
		l.advance(now)
		if l.running.Swap(true) {
			continue
		}
		s.submit(func() {
			defer l.running.Store(false)
			s.runSafe("loop", l.name, l.task)
		})
	}
}

// addLoop registers a loop that first runs after delay and then every
// interval.
func (s *Scheduler) addLoop(name string, task Runnable, interval, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops = append(s.loops, &loop{
		name:     name,
		task:     task,
		interval: interval,
		next:     time.Now().Add(delay),
	})
}

// schedule queues task for owner, which is nil for global tasks.
func (s *Scheduler) schedule(owner *Bot, task Runnable, delay time.Duration) *TaskHandle {
	st := &scheduledTask{
		executeAt: time.Now().Add(max(delay, 0)),
		owner:     owner,
		task:      task,
	}
	s.queue.Push(st)
	return &TaskHandle{task: st}
}

// runDue moves every due task to the lane of its owner and returns without
// waiting for any of them.
func (s *Scheduler) runDue(now time.Time) {
	for _, t := range s.queue.PopDue(now) {
		s.enqueue(t)
	}
}

// enqueue appends t to the lane of its owner and starts a drain job for the
// lane if none is running.
func (s *Scheduler) enqueue(t *scheduledTask) {
	s.lanesMu.Lock()
	lane, active := s.lanes[t.owner]
	s.lanes[t.owner] = append(lane, t)
	s.lanesMu.Unlock()

	if !active {
		s.submit(func() { s.drain(t.owner) })
	}
}

// drain runs the tasks of owner in order until its lane is empty.
func (s *Scheduler) drain(owner *Bot) {
	for {
		s.lanesMu.Lock()
		lane := s.lanes[owner]
		if len(lane) == 0 {
			delete(s.lanes, owner)
			s.lanesMu.Unlock()
			return
		}
		t := lane[0]
		lane[0] = nil
		s.lanes[owner] = lane[1:]
		s.lanesMu.Unlock()

		if t.cancelled.Load() || (owner != nil && owner.Closed()) {
			continue
		}
		s.runSafe("task", fmt.Sprintf("%T", t.task), t.task)
	}
}

// submit hands job to a worker, or to a goroutine of its own when every
// worker is busy. The scheduler goroutine never runs a job itself.
func (s *Scheduler) submit(job func()) {
	s.busy.Add(1)
	run := func() {
		defer s.busy.Done()
		job()
	}
	select {
	case s.jobs <- run:
	default:
		go run()
	}
}

// runSafe runs r and logs any panic it raises.
func (s *Scheduler) runSafe(kind, name string, r Runnable) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("swarm: panic in "+kind, "name", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	r.Run()
}
