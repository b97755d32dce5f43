// internal/sched/schedulerEvent.go

package sched

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rs/zerolog"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusCreate
	StatusDispatch
	StatusPreempt
	StatusDelay
	StatusWake
	StatusBlock
	StatusResume
	StatusPriority
	StatusDelete
	StatusReclaim
	StatusTick
	StatusStart
	StatusHalt
	StatusFault
)

// StatusEvent is emitted on every tick and on key scheduling actions.
type StatusEvent struct {
	Tick     Tick
	Kind     StatusKind
	TaskID   TaskID
	Task     string
	Priority int
	Detail   string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusCreate:
		return "Create"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusDelay:
		return "Delay"
	case StatusWake:
		return "Wake"
	case StatusBlock:
		return "Block"
	case StatusResume:
		return "Resume"
	case StatusPriority:
		return "Priority"
	case StatusDelete:
		return "Delete"
	case StatusReclaim:
		return "Reclaim"
	case StatusTick:
		return "Tick"
	case StatusStart:
		return "Start"
	case StatusHalt:
		return "Halt"
	case StatusFault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// Tracer receives scheduler events. Trace runs inside the kernel's critical
// section and must not call back into the kernel.
type Tracer interface {
	Trace(ev StatusEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(ev StatusEvent)

func (f TracerFunc) Trace(ev StatusEvent) { f(ev) }

type multiTracer []Tracer

func (m multiTracer) Trace(ev StatusEvent) {
	for _, t := range m {
		t.Trace(ev)
	}
}

// CSVTracer writes one row per event. Tick events are skipped unless
// IncludeTicks is set.
type CSVTracer struct {
	IncludeTicks bool
	w            *csv.Writer
}

// NewCSVTracer writes the header row immediately.
func NewCSVTracer(w io.Writer) *CSVTracer {
	cw := csv.NewWriter(w)
	cw.Write([]string{"tick", "event", "task_id", "task", "priority", "detail"})
	cw.Flush()
	return &CSVTracer{w: cw}
}

func (c *CSVTracer) Trace(ev StatusEvent) {
	if ev.Kind == StatusTick && !c.IncludeTicks {
		return
	}
	c.w.Write([]string{
		strconv.FormatInt(int64(ev.Tick), 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		ev.Task,
		strconv.Itoa(ev.Priority),
		ev.Detail,
	})
	c.w.Flush()
}

// Err reports the first write error, if any.
func (c *CSVTracer) Err() error { return c.w.Error() }

// LogTracer logs events at debug level; ticks go to trace level since they
// are too chatty for anything else.
type LogTracer struct {
	Log zerolog.Logger
}

func (l LogTracer) Trace(ev StatusEvent) {
	e := l.Log.Debug()
	if ev.Kind == StatusTick {
		e = l.Log.Trace()
	}
	e = e.Int64("tick", int64(ev.Tick)).Str("event", ev.Kind.String())
	if ev.TaskID != 0 {
		e = e.Uint64("task_id", uint64(ev.TaskID)).Str("task", ev.Task).Int("priority", ev.Priority)
	}
	if ev.Detail != "" {
		e = e.Str("detail", ev.Detail)
	}
	e.Msg("sched")
}
