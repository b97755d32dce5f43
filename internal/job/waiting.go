package job

import (
	"vrtos/internal/console"
	"vrtos/internal/sched"
)

// Default parameters if a task was created without any.
const (
	DefaultText    = "<NO TEXT>\r\n"
	DefaultDelayMS = 1000
)

// Params configures one PrintLoop task.
type Params struct {
	Text    string // text to be printed by the task
	DelayMS int    // delay between two messages
	Count   int    // number of messages; 0 = forever
}

func (p *Params) resolve() (text string, delayMS, count int) {
	text, delayMS = DefaultText, DefaultDelayMS
	if p == nil {
		return text, delayMS, 0
	}
	if p.Text != "" {
		text = p.Text
	}
	// A zero delay would only yield, and under virtual time a task that never
	// blocks keeps the clock from advancing, so it gets the default as well.
	if p.DelayMS > 0 {
		delayMS = p.DelayMS
	}
	return text, delayMS, p.Count
}

// PrintLoop returns a task entry that prints its text and then waits
// DelayMS milliseconds, over and over. A nil param uses the defaults.
func PrintLoop(out console.Printer) func(*sched.Self, *Params) {
	return func(self *sched.Self, p *Params) {
		text, delayMS, count := p.resolve()
		ticks := self.Kernel().MsToTicks(delayMS)

		for i := 0; count == 0 || i < count; i++ {
			out.Print(text)
			self.Delay(ticks)
		}

		// Leaving the loop without deleting the task is a fatal misuse.
		self.Exit()
	}
}
