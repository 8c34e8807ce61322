package swarm

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// runnableFunc adapts a function to Runnable.
type runnableFunc func()

func (f runnableFunc) Run() { f() }

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond, 2)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestTaskQueue_PopDueOrder(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	now := time.Now()

	var names []string
	push := func(name string, at time.Time) {
		q.Push(&scheduledTask{executeAt: at, task: runnableFunc(func() { names = append(names, name) })})
	}
	push("late", now.Add(30*time.Millisecond))
	push("first", now)
	push("second", now)
	push("middle", now.Add(10*time.Millisecond))
	push("future", now.Add(time.Hour))

	for _, task := range q.PopDue(now.Add(time.Minute)) {
		task.task.Run()
	}
	want := []string{"first", "second", "middle", "late"}
	if len(names) != len(want) {
		t.Fatalf("ran %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ran %v, want %v", names, want)
		}
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestTaskQueue_PopDueSkipsCancelled(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	now := time.Now()

	cancelled := &scheduledTask{executeAt: now, task: runnableFunc(func() {})}
	kept := &scheduledTask{executeAt: now, task: runnableFunc(func() {})}
	q.Push(cancelled)
	q.Push(kept)
	(&TaskHandle{task: cancelled}).Cancel()

	due := q.PopDue(now)
	if len(due) != 1 || due[0] != kept {
		t.Errorf("PopDue() = %v, want only the kept task", due)
	}
}

func TestScheduler_RunsGlobalTasksInDueOrder(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for _, d := range []int{30, 10, 20} {
		wg.Add(1)
		s.schedule(nil, runnableFunc(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, d)
			mu.Unlock()
		}), time.Duration(d)*time.Millisecond)
	}
	wg.Wait()

	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Errorf("order = %v, want [10 20 30]", order)
	}
}

func TestScheduler_DelayHonoured(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	start := time.Now()
	done := make(chan time.Duration, 1)
	s.schedule(nil, runnableFunc(func() { done <- time.Since(start) }), 60*time.Millisecond)

	select {
	case elapsed := <-done:
		if elapsed < 60*time.Millisecond {
			t.Errorf("task ran after %s, want at least 60ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestScheduler_CancelledTaskSkipped(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	var ran atomic.Bool
	h := s.schedule(nil, runnableFunc(func() { ran.Store(true) }), 20*time.Millisecond)
	h.Cancel()

	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Errorf("cancelled task ran")
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	done := make(chan struct{})
	s.schedule(nil, runnableFunc(func() { panic("boom") }), 0)
	s.schedule(nil, runnableFunc(func() { close(done) }), 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped after a panicking task")
	}
}

func TestScheduler_LoopInitialDelay(t *testing.T) {
	t.Parallel()
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond, 2)

	var runs atomic.Int32
	s.addLoop("counter", runnableFunc(func() { runs.Add(1) }), 10*time.Millisecond, 100*time.Millisecond)
	s.Start()
	t.Cleanup(s.Stop)

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("loop ran %d times before its initial delay", n)
	}
	eventually(t, time.Second, func() bool { return runs.Load() >= 3 }, "loop runs")
}

func TestScheduler_TasksOfOneBotDoNotOverlap(t *testing.T) {
	t.Parallel()
	m, tr := newTestManager(t, nil)
	b, _ := connectBot(t, m, tr, "Serial")

	var active, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		Schedule(b, runnableFunc(func() {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}), 0)
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Errorf("%d tasks of one bot overlapped", n)
	}
}

func TestScheduler_StalledBotDoesNotDelayOthers(t *testing.T) {
	t.Parallel()
	m, tr := newTestManager(t, nil)
	stalled, sc := loginBot(t, m, tr, "Stalled", EventLogin{EntityID: 1})
	_, fc := loginBot(t, m, tr, "Fast", EventLogin{EntityID: 2})

	sc.stall(t)
	entered := make(chan struct{})
	Dispatch(stalled, runnableFunc(func() {
		close(entered)
		_ = stalled.SendChat("stuck")
	}))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("task of the stalled bot did not start")
	}

	ticks := m.scheduler.Ticks()
	start := time.Now()
	fc.emit(EventLatencyCheck{ID: 7})
	eventually(t, time.Second, func() bool { return len(messagesOf[LatencyReplyMessage](fc)) == 1 }, "latency reply of the fast bot")
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("fast bot replied after %s while another bot was stalled", elapsed)
	}

	eventually(t, time.Second, func() bool { return m.scheduler.Ticks() >= ticks+5 }, "ticks while a bot is stalled")
	if n := len(messagesOf[ChatMessage](sc)); n != 0 {
		t.Errorf("stalled bot sent %d chat messages", n)
	}
}

func TestScheduler_SlowLoopSkipsTicks(t *testing.T) {
	t.Parallel()
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond, 2)

	release := make(chan struct{})
	var slow, fast atomic.Int32
	s.addLoop("slow", runnableFunc(func() {
		slow.Add(1)
		<-release
	}), 0, 0)
	s.addLoop("fast", runnableFunc(func() { fast.Add(1) }), 0, 0)
	s.Start()
	t.Cleanup(s.Stop)
	t.Cleanup(func() { close(release) })

	eventually(t, time.Second, func() bool { return fast.Load() >= 5 }, "fast loop runs")
	if n := slow.Load(); n != 1 {
		t.Errorf("slow loop started %d times while still running, want 1", n)
	}
}

func TestGravityTimer_PullsBotsToGround(t *testing.T) {
	t.Parallel()
	m, tr := newTestManager(t, func(b *Builder) {
		conf := DefaultConfig()
		conf.Gravity = true
		conf.GravityDelay = 0
		conf.GravityInterval = 10 * time.Millisecond
		conf.TickRate = 10 * time.Millisecond
		b.Config(conf).Address(testAddress)
	})
	if m.GravityTimer() == nil {
		t.Fatal("GravityTimer() = nil with gravity enabled")
	}

	high, hc := connectBot(t, m, tr, "High")
	low, lc := connectBot(t, m, tr, "Low")
	placeBot(high, mgl64.Vec3{0, 12, 0}, 10)
	placeBot(low, mgl64.Vec3{5, 10, 5}, 10)

	eventually(t, 2*time.Second, func() bool {
		pos, _, _, _ := high.Position()
		return pos[1] == 10
	}, "high bot landing")

	moves := messagesOf[MoveMessage](hc)
	if last := moves[len(moves)-1]; !last.OnGround || last.Position[1] != 10 {
		t.Errorf("last move = %+v, want on ground at y 10", last)
	}
	if n := len(messagesOf[MoveMessage](lc)); n != 0 {
		t.Errorf("bot on the ground sent %d gravity moves", n)
	}
}

func TestGravityTimer_Disabled(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, nil)
	if m.GravityTimer() != nil {
		t.Errorf("GravityTimer() != nil with gravity disabled")
	}
}
