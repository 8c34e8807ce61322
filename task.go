package swarm

import (
	"sync/atomic"
	"time"
)

// TaskHandle refers to a task queued with Schedule, ScheduleGlobal or
// Dispatch.
type TaskHandle struct {
	task *scheduledTask
}

// Cancel stops the task from running if it has not started yet. Calling
// Cancel on a nil handle does nothing.
func (h *TaskHandle) Cancel() {
	if h == nil || h.task == nil {
		return
	}
	h.task.cancelled.Store(true)
}

// Schedule runs task for b once delay has passed. Tasks scheduled for the
// same bot run one at a time, in due order, and are skipped once the bot has
// disconnected.
// Returns nil if the bot is nil or already disconnected.
func Schedule(b *Bot, task Runnable, delay time.Duration) *TaskHandle {
	if !b.schedulable() {
		return nil
	}
	return b.manager.scheduler.schedule(b, task, delay)
}

// ScheduleGlobal runs task once delay has passed, independently of any bot.
func ScheduleGlobal(m *Manager, task Runnable, delay time.Duration) *TaskHandle {
	if m == nil {
		return nil
	}
	return m.scheduler.schedule(nil, task, delay)
}

// Dispatch runs task for b on the next scheduler pass.
func Dispatch(b *Bot, task Runnable) *TaskHandle {
	return Schedule(b, task, 0)
}

// RepeatingTaskHandle refers to a task queued with ScheduleRepeating.
type RepeatingTaskHandle struct {
	stopped atomic.Bool
}

// Cancel prevents every further run of the task.
func (h *RepeatingTaskHandle) Cancel() {
	if h != nil {
		h.stopped.Store(true)
	}
}

// repeatingTask runs inner and queues itself again for the same bot.
type repeatingTask struct {
	bot      *Bot
	inner    Runnable
	interval time.Duration
	// left is the number of runs still to go, negative for no limit
	left   int
	handle *RepeatingTaskHandle
}

func (t *repeatingTask) Run() {
	if t.handle.stopped.Load() {
		return
	}
	t.inner.Run()

	if t.left > 0 {
		t.left--
	}
	if t.left == 0 || t.handle.stopped.Load() || !t.bot.schedulable() {
		return
	}
	t.bot.manager.scheduler.schedule(t.bot, t, t.interval)
}

// ScheduleRepeating runs task for b every interval, starting one interval
// from now. A negative times repeats until the handle is cancelled or the
// bot disconnects, a positive times stops after that many runs.
// Returns nil if times is zero or the bot cannot be scheduled for.
func ScheduleRepeating(b *Bot, task Runnable, interval time.Duration, times int) *RepeatingTaskHandle {
	if times == 0 || !b.schedulable() {
		return nil
	}
	handle := &RepeatingTaskHandle{}
	b.manager.scheduler.schedule(b, &repeatingTask{
		bot:      b,
		inner:    task,
		interval: interval,
		left:     times,
		handle:   handle,
	}, interval)
	return handle
}
