package sched

import "fmt"

// TaskID uniquely identifies a task for the lifetime of a kernel. IDs are
// never reused, unlike pool slots.
type TaskID uint64

// Tick is the scheduler's unit of time.
type Tick int64

// Forever makes TakeNotify wait without a timeout.
const Forever Tick = -1

// Handle is an opaque reference to a task. It stays valid until the task is
// reclaimed; afterwards every operation on it fails with ErrInvalidHandle.
type Handle struct {
	slot int
	gen  uint32
}

// IsZero reports whether h was never returned by Create.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("slot%d/gen%d", h.slot, h.gen) }

// TaskState is the runnability class of a task.
type TaskState int

const (
	StateReady TaskState = iota
	StateRunning
	StateBlocked
	StateDelayed
	StateDeleted
)

func (s TaskState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateDelayed:
		return "Delayed"
	case StateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

type blockReason int

const (
	blockNone blockReason = iota
	blockSuspended
	blockNotify
)

// StackRegion is a range of words carved out of the kernel's stack arena.
type StackRegion struct {
	Base  int
	Words int
}

// TaskInfo is a point-in-time copy of a task control block.
type TaskInfo struct {
	Handle        Handle
	ID            TaskID
	Name          string
	Priority      int
	State         TaskState
	Stack         StackRegion
	WakeTick      Tick // only meaningful while Delayed or waiting with a timeout
	RunTicks      int64
	Notifications uint32
}

// tcb is the task control block.
type tcb struct {
	handle   Handle
	id       TaskID
	name     string
	priority int
	state    TaskState
	reason   blockReason
	stack    StackRegion
	ctx      *execContext
	self     *Self

	wake      wakeKey
	inDelayed bool
	notify    uint32
	runTicks  int64
}

func (t *tcb) info() TaskInfo {
	ti := TaskInfo{
		Handle:        t.handle,
		ID:            t.id,
		Name:          t.name,
		Priority:      t.priority,
		State:         t.state,
		Stack:         t.stack,
		RunTicks:      t.runTicks,
		Notifications: t.notify,
	}
	if t.inDelayed {
		ti.WakeTick = t.wake.at
	}
	return ti
}
