package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfResources is returned when the task pool or the stack arena cannot
	// satisfy a creation request.
	ErrOutOfResources = errors.New("out of resources")
	// ErrInvalidHandle is returned for unknown, deleted or reclaimed handles.
	ErrInvalidHandle = errors.New("invalid task handle")
	// ErrNoTasksRegistered is returned by Start when no task exists.
	ErrNoTasksRegistered = errors.New("no tasks registered")
	// ErrAlreadyStarted is returned by Start on a kernel that was started before.
	ErrAlreadyStarted = errors.New("scheduler already started")

	ErrTaskReturned       = errors.New("task entry returned without deleting itself")
	ErrTaskPanicked       = errors.New("task panicked")
	ErrSchedulerSuspended = errors.New("blocking call while scheduler is suspended")
)

// TaskFault reports a task that broke the kernel contract. The kernel halts
// when one is raised and Start returns it.
type TaskFault struct {
	ID    TaskID
	Name  string
	Err   error
	Panic any
}

func (f *TaskFault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("task %d (%s): %v: %v", f.ID, f.Name, f.Err, f.Panic)
	}
	return fmt.Sprintf("task %d (%s): %v", f.ID, f.Name, f.Err)
}

func (f *TaskFault) Unwrap() error { return f.Err }
