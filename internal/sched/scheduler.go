// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrHalted is returned by operations on a kernel whose run has ended.
var ErrHalted = errors.New("scheduler halted")

// SchedulerState is the global state of a Kernel.
type SchedulerState int

const (
	NotStarted SchedulerState = iota
	Running
	Suspended
	Halted
)

func (s SchedulerState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Halted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Kernel is a single-core preemptive priority scheduler. Tasks run on their
// own goroutines but only the context holding the CPU executes; every other
// context is parked in capture.
type Kernel struct {
	// mu is the interrupt mask: scheduler structures are only touched with it held.
	mu     sync.Mutex
	cfg    Config
	log    zerolog.Logger
	tracer Tracer
	clock  TickSource
	limit  Tick // halt once the tick counter reaches it; 0 = run forever

	state        SchedulerState // NotStarted, Running or Halted
	tick         Tick
	pool         *taskPool
	ready        *readyQueue
	delayed      *delayedSet
	current      *tcb // nil while the idle context runs
	idle         *execContext
	terminating  []*tcb // deleted while running, reclaimed once switched away
	yieldPending bool
	suspendDepth int
	pendedTicks  Tick
	switches     uint64
	idleTicks    int64

	halt      chan struct{}
	haltErr   error
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l zerolog.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithTracer adds event consumers.
func WithTracer(tracers ...Tracer) Option {
	return func(k *Kernel) {
		for _, t := range tracers {
			if t == nil {
				continue
			}
			if k.tracer == nil {
				k.tracer = t
				continue
			}
			if m, ok := k.tracer.(multiTracer); ok {
				k.tracer = append(m, t)
			} else {
				k.tracer = multiTracer{k.tracer, t}
			}
		}
	}
}

// WithClock replaces the tick source selected by Config.VirtualTime.
func WithClock(c TickSource) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithTickLimit halts the kernel when the tick counter reaches n.
func WithTickLimit(n Tick) Option {
	return func(k *Kernel) { k.limit = n }
}

// New creates a kernel with the given configuration. It is inert until Start.
func New(cfg Config, opts ...Option) *Kernel {
	cfg = cfg.Normalize()
	k := &Kernel{
		cfg:     cfg,
		log:     zerolog.Nop(),
		pool:    newTaskPool(cfg.MaxTasks, cfg.StackPoolWords),
		ready:   newReadyQueue(),
		delayed: newDelayedSet(),
		halt:    make(chan struct{}),
	}
	if cfg.VirtualTime {
		k.clock = VirtualClock{}
	} else {
		k.clock = NewTickClock()
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Config returns the normalized configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Create allocates a task control block and a stack, and makes the task Ready.
// The parameter is handed to entry when the task first runs; the kernel never
// looks at it. entry must loop forever or end with Self.Exit.
func Create[P any](k *Kernel, entry func(*Self, P), name string, stackWords int, param P, priority int) (Handle, error) {
	if entry == nil {
		return Handle{}, fmt.Errorf("create %q: nil entry", name)
	}
	return k.create(name, stackWords, priority, func(s *Self) { entry(s, param) })
}

func (k *Kernel) create(name string, stackWords, priority int, body func(*Self)) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == Halted {
		return Handle{}, fmt.Errorf("create %q: %w", name, ErrHalted)
	}
	if stackWords < k.cfg.MinStackWords {
		stackWords = k.cfg.MinStackWords
	}
	t, err := k.pool.alloc(stackWords)
	if err != nil {
		k.log.Warn().Err(err).Str("task", name).Int("stack_words", stackWords).Msg("task creation failed")
		return Handle{}, fmt.Errorf("create %q: %w", name, err)
	}
	t.name = name
	t.priority = k.cfg.clampPriority(priority)
	t.state = StateReady
	t.self = &Self{k: k, t: t}
	t.ctx = newExecContext(func() { k.runTask(t, body) })
	k.ready.push(t)
	k.emitLocked(StatusCreate, t, "")

	if k.current != nil && t.priority > k.current.priority {
		k.yieldPending = true
	}
	return t.handle, nil
}

// runTask is the goroutine behind a task context.
func (k *Kernel) runTask(t *tcb, body func(*Self)) {
	defer k.wg.Done()
	defer func() {
		r := recover()
		if r == nil && t.self.unwound {
			return
		}
		fault := &TaskFault{ID: t.id, Name: t.name, Err: ErrTaskReturned}
		if r != nil {
			fault.Err = ErrTaskPanicked
			fault.Panic = r
		}
		k.mu.Lock()
		k.faultLocked(t, fault)
		k.mu.Unlock()
	}()
	body(t.self)
}

// Start runs the scheduler. The calling goroutine becomes the idle context and
// Start only returns when the run ends: nil after context cancellation or the
// tick limit, a *TaskFault when a task broke its contract.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.state != NotStarted {
		k.mu.Unlock()
		return ErrAlreadyStarted
	}
	if k.pool.live == 0 {
		k.mu.Unlock()
		k.log.Error().Msg("scheduler start with no tasks")
		return fmt.Errorf("start: %w", ErrNoTasksRegistered)
	}
	k.state = Running
	k.runCtx, k.cancelRun = context.WithCancel(ctx)
	k.idle = newExecContext(nil)
	k.emitLocked(StatusStart, nil, fmt.Sprintf("tasks=%d", k.pool.live))
	k.log.Info().
		Int("tasks", k.pool.live).
		Int("tick_ms", k.cfg.TickMS).
		Bool("virtual_time", k.cfg.VirtualTime).
		Int64("tick_limit", int64(k.limit)).
		Msg("scheduler started")
	k.mu.Unlock()

	stop := context.AfterFunc(k.runCtx, func() {
		k.mu.Lock()
		k.haltLocked(nil)
		k.mu.Unlock()
	})
	defer stop()

	k.clock.Start(time.Duration(k.cfg.TickMS) * time.Millisecond)
	k.idleLoop()

	k.mu.Lock()
	k.haltLocked(nil)
	k.mu.Unlock()
	k.wg.Wait()
	k.clock.Stop()

	k.mu.Lock()
	defer k.mu.Unlock()
	k.log.Info().
		Int64("tick", int64(k.tick)).
		Uint64("switches", k.switches).
		Int64("idle_ticks", k.idleTicks).
		Msg("scheduler halted")
	return k.haltErr
}

// idleLoop is the body of the idle context: dispatch whenever something is
// Ready, otherwise wait for the next tick.
func (k *Kernel) idleLoop() {
	for {
		k.mu.Lock()
		if k.state == Halted {
			k.mu.Unlock()
			return
		}
		k.reapLocked()
		if k.ready.len() > 0 {
			to := k.dispatchLocked()
			k.mu.Unlock()
			to.restore(k)
			if !k.idle.capture(k.halt) {
				return
			}
			continue
		}
		k.mu.Unlock()

		n, err := k.clock.Wait(k.runCtx)
		if err != nil {
			return
		}
		k.mu.Lock()
		k.tickLocked(n)
		k.mu.Unlock()
	}
}

// tickLocked is the tick interrupt handler.
func (k *Kernel) tickLocked(n Tick) {
	for ; n > 0 && k.state == Running; n-- {
		if k.suspendDepth > 0 {
			k.pendedTicks++
			continue
		}
		k.tick++
		if k.current != nil {
			k.current.runTicks++
		} else {
			k.idleTicks++
		}
		k.emitLocked(StatusTick, nil, "")

		for _, t := range k.delayed.popExpired(k.tick) {
			t.state = StateReady
			t.reason = blockNone
			k.ready.push(t)
			k.emitLocked(StatusWake, t, "")
		}
		if k.current != nil && k.ready.preempts(k.current.priority, k.cfg.TimeSlicing) {
			k.yieldPending = true
		}
		if k.limit > 0 && k.tick >= k.limit {
			k.haltLocked(nil)
		}
	}
	k.reapLocked()
}

// dispatchLocked picks the next context to run and updates task states. The
// previous task goes back to the tail of its band if it is still Running.
func (k *Kernel) dispatchLocked() *execContext {
	k.yieldPending = false
	prev := k.current
	if prev != nil && prev.state == StateRunning {
		prev.state = StateReady
		k.ready.push(prev)
	}

	next := k.ready.pop()
	if next == nil {
		k.current = nil
		if prev != nil {
			k.emitLocked(StatusIdle, nil, "")
		}
		return k.idle
	}
	next.state = StateRunning
	k.current = next
	if next != prev {
		if prev != nil && prev.state == StateReady {
			k.emitLocked(StatusPreempt, prev, "")
		}
		k.switches++
		k.emitLocked(StatusDispatch, next, "")
	}
	return next.ctx
}

// reapLocked reclaims tasks that deleted themselves once another context runs.
func (k *Kernel) reapLocked() {
	kept := k.terminating[:0]
	for _, t := range k.terminating {
		if t == k.current {
			kept = append(kept, t)
			continue
		}
		k.pool.release(t)
		k.emitLocked(StatusReclaim, t, "")
	}
	k.terminating = kept
}

func (k *Kernel) haltLocked(err error) {
	if k.state == Halted || k.state == NotStarted {
		return
	}
	k.state = Halted
	k.haltErr = err
	close(k.halt)
	if k.cancelRun != nil {
		k.cancelRun()
	}
	k.emitLocked(StatusHalt, nil, "")
}

func (k *Kernel) faultLocked(t *tcb, fault *TaskFault) {
	k.log.Error().Err(fault).Uint64("task_id", uint64(t.id)).Str("task", t.name).Msg("task fault")
	k.emitLocked(StatusFault, t, fault.Err.Error())
	k.haltLocked(fault)
}

func (k *Kernel) emitLocked(kind StatusKind, t *tcb, detail string) {
	if k.tracer == nil {
		return
	}
	ev := StatusEvent{Tick: k.tick, Kind: kind, Detail: detail}
	if t != nil {
		ev.TaskID = t.id
		ev.Task = t.name
		ev.Priority = t.priority
	}
	k.tracer.Trace(ev)
}

// Delete removes a task. A task that is not running is reclaimed at once; the
// running task is marked Deleted and reclaimed after it has been switched out
// at its next kernel entry. Tasks deleting themselves should use Self.Exit.
func (k *Kernel) Delete(h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	switch t.state {
	case StateReady:
		k.ready.remove(t)
	case StateDelayed, StateBlocked:
		k.delayed.remove(t)
	}
	running := t == k.current
	t.state = StateDeleted
	k.emitLocked(StatusDelete, t, "")

	if running {
		k.terminating = append(k.terminating, t)
		k.yieldPending = true
		return nil
	}
	if !t.ctx.killed {
		t.ctx.killed = true
		close(t.ctx.kill)
	}
	k.pool.release(t)
	k.emitLocked(StatusReclaim, t, "")
	return nil
}

// Suspend blocks a task until Resume. Suspending the running task takes effect
// at its next kernel entry.
func (k *Kernel) Suspend(h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	if t.state == StateBlocked && t.reason == blockSuspended {
		return nil
	}
	switch t.state {
	case StateReady:
		k.ready.remove(t)
	case StateDelayed, StateBlocked:
		k.delayed.remove(t)
	case StateRunning:
		k.yieldPending = true
	}
	t.state = StateBlocked
	t.reason = blockSuspended
	k.emitLocked(StatusBlock, t, "suspended")
	return nil
}

// Resume makes a suspended task Ready again. Resuming a task that is not
// suspended does nothing.
func (k *Kernel) Resume(h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if t.state != StateBlocked || t.reason != blockSuspended {
		return nil
	}
	k.readyLocked(t)
	k.emitLocked(StatusResume, t, "")
	return nil
}

// Notify increments the task's notification count and wakes it if it is
// waiting in TakeNotify.
func (k *Kernel) Notify(h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	t.notify++
	if t.state == StateBlocked && t.reason == blockNotify {
		k.delayed.remove(t)
		k.readyLocked(t)
		k.emitLocked(StatusWake, t, "notify")
	}
	return nil
}

// readyLocked moves a blocked task to the ready queue and asks for a switch if
// it outranks the running task.
func (k *Kernel) readyLocked(t *tcb) {
	t.state = StateReady
	t.reason = blockNone
	k.ready.push(t)
	if k.current != nil && t.priority > k.current.priority {
		k.yieldPending = true
	}
}

// SetPriority changes a task's priority. The value is clamped into the
// configured range.
func (k *Kernel) SetPriority(h Handle, priority int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	priority = k.cfg.clampPriority(priority)
	if priority == t.priority {
		return nil
	}
	if t.state == StateReady {
		k.ready.remove(t)
		t.priority = priority
		k.ready.push(t)
	} else {
		t.priority = priority
	}
	k.emitLocked(StatusPriority, t, "")

	if cur := k.current; cur != nil {
		if top, ok := k.ready.top(); ok && top > cur.priority {
			k.yieldPending = true
		}
	}
	return nil
}

// Priority returns a task's current priority.
func (k *Kernel) Priority(h Handle) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return 0, fmt.Errorf("priority: %w", err)
	}
	return t.priority, nil
}

// Info returns a snapshot of one task.
func (k *Kernel) Info(h Handle) (TaskInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.pool.lookup(h)
	if err != nil {
		return TaskInfo{}, fmt.Errorf("info: %w", err)
	}
	return t.info(), nil
}

// Tasks returns a snapshot of every live task ordered by id.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	var out []TaskInfo
	k.pool.each(func(t *tcb) {
		if t.state != StateDeleted {
			out = append(out, t.info())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NumTasks returns the number of tasks that have not been deleted.
func (k *Kernel) NumTasks() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pool.live - len(k.terminating)
}

// TickCount returns the current tick.
func (k *Kernel) TickCount() Tick {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// State returns the global scheduler state.
func (k *Kernel) State() SchedulerState {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == Running && k.suspendDepth > 0 {
		return Suspended
	}
	return k.state
}

// MsToTicks converts milliseconds to ticks at the configured tick rate.
func (k *Kernel) MsToTicks(ms int) Tick {
	if ms <= 0 {
		return 0
	}
	return Tick(ms / k.cfg.TickMS)
}

// Stats is a snapshot of kernel counters.
type Stats struct {
	Tick              Tick
	State             SchedulerState
	Tasks             int
	Ready             int
	Delayed           int
	Blocked           int
	FreeSlots         int
	FreeStackWords    int
	LargestStackBlock int
	NextWake          Tick // earliest pending wake-up; 0 when nothing waits
	ContextSwitches   uint64
	IdleTicks         int64
}

// Stats returns the current kernel counters.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := Stats{
		Tick:              k.tick,
		State:             k.state,
		Ready:             k.ready.len(),
		FreeSlots:         k.pool.freeSlots(),
		FreeStackWords:    k.pool.arena.freeWords,
		LargestStackBlock: k.pool.arena.largest(),
		ContextSwitches:   k.switches,
		IdleTicks:         k.idleTicks,
	}
	if k.state == Running && k.suspendDepth > 0 {
		st.State = Suspended
	}
	if at, ok := k.delayed.next(); ok {
		st.NextWake = at
	}
	k.pool.each(func(t *tcb) {
		switch t.state {
		case StateDeleted:
			return
		case StateDelayed:
			st.Delayed++
		case StateBlocked:
			st.Blocked++
		}
		st.Tasks++
	})
	return st
}
