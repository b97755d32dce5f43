package sched

// execContext is a saved execution context. The machine state it stands for is
// a parked goroutine; restoring the context hands that goroutine the CPU.
type execContext struct {
	wake    chan struct{}
	kill    chan struct{}
	killed  bool   // guarded by Kernel.mu
	run     func() // nil for the idle context
	started bool
}

func newExecContext(run func()) *execContext {
	return &execContext{
		wake: make(chan struct{}, 1),
		kill: make(chan struct{}),
		run:  run,
	}
}

// restore transfers the CPU to c. A task context that never ran starts its
// entry on a fresh goroutine.
func (c *execContext) restore(k *Kernel) {
	if c.run != nil && !c.started {
		c.started = true
		k.wg.Add(1)
		go c.run()
		return
	}
	c.wake <- struct{}{}
}

// capture parks the calling goroutine until c is restored. It reports false
// when the context was killed or the kernel halted; the caller must unwind.
func (c *execContext) capture(halt <-chan struct{}) bool {
	select {
	case <-c.wake:
		select {
		case <-halt:
			return false
		default:
			return true
		}
	case <-c.kill:
		return false
	case <-halt:
		return false
	}
}
