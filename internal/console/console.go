// Package console is the print collaborator used by tasks.
package console

import (
	"io"
	"sync"
)

// Printer emits a text message synchronously.
type Printer interface {
	Print(text string)
}

// Console writes messages to an io.Writer one at a time, so two messages never
// interleave. Write errors are counted, not returned: tasks have no use for
// them and must not stall on the sink.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	errors int
}

func New(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Print(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, text); err != nil {
		c.errors++
	}
}

// Errors returns how many writes failed.
func (c *Console) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// PrinterFunc adapts a function to Printer.
type PrinterFunc func(text string)

func (f PrinterFunc) Print(text string) { f(text) }
