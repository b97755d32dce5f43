package sched

import (
	"fmt"
	"runtime"
)

// Self is the kernel interface handed to a running task. Its methods must only
// be called from the task's own entry function.
type Self struct {
	k       *Kernel
	t       *tcb
	unwound bool
}

func (s *Self) Kernel() *Kernel { return s.k }
func (s *Self) Handle() Handle  { return s.t.handle }
func (s *Self) ID() TaskID      { return s.t.id }
func (s *Self) Name() string    { return s.t.name }

// Priority returns the task's current priority.
func (s *Self) Priority() int {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.t.priority
}

// TickCount returns the current tick.
func (s *Self) TickCount() Tick { return s.k.TickCount() }

// Checkpoint is a preemption point: pending ticks are serviced and the task
// gives up the CPU if a switch is due.
func (s *Self) Checkpoint() {
	s.enter()
	s.preemptLocked()
	s.k.mu.Unlock()
}

// Yield moves the task to the tail of its priority band and runs the next
// ready task. With no other task of equal or higher priority it returns at
// once.
func (s *Self) Yield() {
	k := s.k
	s.enter()
	if k.suspendDepth > 0 {
		k.yieldPending = true
	} else {
		s.switchAwayLocked()
	}
	k.mu.Unlock()
}

// Delay blocks the task for the given number of ticks. A zero or negative
// duration yields instead.
func (s *Self) Delay(ticks Tick) {
	if ticks <= 0 {
		s.Yield()
		return
	}
	k := s.k
	s.enter()
	s.requireSchedulingLocked()
	s.delayLocked(k.tick + ticks)
	k.mu.Unlock()
}

// DelayUntil blocks until *prev + period and advances *prev by period, so a
// loop calling it runs at a fixed rate regardless of its own execution time.
// It returns false without blocking when that tick has already passed.
func (s *Self) DelayUntil(prev *Tick, period Tick) bool {
	k := s.k
	s.enter()
	wake := *prev + period
	*prev = wake
	if period <= 0 || wake <= k.tick {
		s.preemptLocked()
		k.mu.Unlock()
		return false
	}
	s.requireSchedulingLocked()
	s.delayLocked(wake)
	k.mu.Unlock()
	return true
}

func (s *Self) delayLocked(wake Tick) {
	k := s.k
	s.t.state = StateDelayed
	k.delayed.add(s.t, wake)
	k.emitLocked(StatusDelay, s.t, fmt.Sprintf("wake=%d", wake))
	s.switchAwayLocked()
}

// Spin simulates CPU-bound work lasting the given number of ticks. Each tick
// boundary is a preemption point, so other tasks may run in between; only the
// ticks during which this task held the CPU count.
func (s *Self) Spin(ticks Tick) {
	k := s.k
	s.enter()
	s.preemptLocked()
	k.mu.Unlock()
	for ticks > 0 {
		n, err := k.clock.Wait(k.runCtx)
		if err != nil {
			s.unwind()
		}
		ticks -= n

		k.mu.Lock()
		s.checkHaltLocked()
		k.tickLocked(n)
		s.checkHaltLocked()
		s.preemptLocked()
		k.mu.Unlock()
	}
}

// Suspend blocks the calling task until another party calls Kernel.Resume.
func (s *Self) Suspend() {
	k := s.k
	s.enter()
	s.requireSchedulingLocked()
	s.t.state = StateBlocked
	s.t.reason = blockSuspended
	k.emitLocked(StatusBlock, s.t, "suspended")
	s.switchAwayLocked()
	k.mu.Unlock()
}

// TakeNotify returns and clears the pending notification count. When there is
// none it blocks until Kernel.Notify or until timeout ticks pass; timeout 0
// polls and Forever waits without limit. It returns 0 on timeout.
func (s *Self) TakeNotify(timeout Tick) uint32 {
	k := s.k
	s.enter()
	if s.t.notify == 0 && timeout != 0 {
		s.requireSchedulingLocked()
		s.t.state = StateBlocked
		s.t.reason = blockNotify
		if timeout > 0 {
			k.delayed.add(s.t, k.tick+timeout)
		}
		k.emitLocked(StatusBlock, s.t, "notify")
		s.switchAwayLocked()
	} else {
		s.preemptLocked()
	}
	n := s.t.notify
	s.t.notify = 0
	k.mu.Unlock()
	return n
}

// SuspendAll stops context switching until the matching ResumeAll. Ticks
// raised in between are held back and replayed on resume. Calls nest.
func (s *Self) SuspendAll() {
	k := s.k
	k.mu.Lock()
	s.checkHaltLocked()
	k.suspendDepth++
	k.mu.Unlock()
}

// ResumeAll undoes one SuspendAll. It reports whether the task was switched
// out as a result.
func (s *Self) ResumeAll() bool {
	k := s.k
	k.mu.Lock()
	s.checkHaltLocked()
	if k.suspendDepth == 0 {
		k.mu.Unlock()
		return false
	}
	k.suspendDepth--
	if k.suspendDepth > 0 {
		k.mu.Unlock()
		return false
	}
	pended := k.pendedTicks
	k.pendedTicks = 0
	k.tickLocked(pended + k.clock.Poll())
	s.checkHaltLocked()
	switched := false
	if k.yieldPending {
		s.switchAwayLocked()
		switched = true
	}
	k.mu.Unlock()
	return switched
}

// Exit deletes the calling task. It never returns.
func (s *Self) Exit() {
	k := s.k
	k.mu.Lock()
	s.checkHaltLocked()
	s.requireSchedulingLocked()
	s.t.state = StateDeleted
	k.terminating = append(k.terminating, s.t)
	k.emitLocked(StatusDelete, s.t, "exit")
	s.switchAwayLocked()
	// switchAwayLocked unwinds deleted tasks; this is not reached.
	k.mu.Unlock()
	s.unwind()
}

// enter is the kernel entry of every task-side call: it masks interrupts and
// services the ticks raised since the last entry. It returns with k.mu held
// and the task Running. A switch requested by those ticks is left to the
// caller, since blocking calls switch anyway.
func (s *Self) enter() {
	k := s.k
	k.mu.Lock()
	s.checkHaltLocked()
	k.tickLocked(k.clock.Poll())
	s.checkHaltLocked()
	if s.t.state != StateRunning {
		s.switchAwayLocked()
	}
}

// preemptLocked switches away when the task was suspended or deleted from
// outside, or when a tick or wake-up asked for a switch.
func (s *Self) preemptLocked() {
	k := s.k
	if s.t.state != StateRunning || (k.yieldPending && k.suspendDepth == 0) {
		s.switchAwayLocked()
	}
}

// switchAwayLocked dispatches the next context and parks the task until it is
// restored. k.mu is held on entry and on return.
func (s *Self) switchAwayLocked() {
	k := s.k
	to := k.dispatchLocked()
	from := s.t.ctx
	if to == from {
		return
	}
	deleted := s.t.state == StateDeleted
	k.mu.Unlock()

	to.restore(k)
	if deleted || !from.capture(k.halt) {
		s.unwind()
	}
	k.mu.Lock()
	s.checkHaltLocked()
}

// requireSchedulingLocked faults the task when it tries to block while the
// scheduler is suspended.
func (s *Self) requireSchedulingLocked() {
	k := s.k
	if k.suspendDepth == 0 {
		return
	}
	k.faultLocked(s.t, &TaskFault{ID: s.t.id, Name: s.t.name, Err: ErrSchedulerSuspended})
	k.mu.Unlock()
	s.unwind()
}

func (s *Self) checkHaltLocked() {
	if s.k.state == Halted {
		s.k.mu.Unlock()
		s.unwind()
	}
}

// unwind terminates the task goroutine without reporting a fault.
func (s *Self) unwind() {
	s.unwound = true
	runtime.Goexit()
}
