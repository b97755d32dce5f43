package job

import (
	"vrtos/internal/console"
	"vrtos/internal/sched"
)

// BurstParams configures a CPU-bound task.
type BurstParams struct {
	Text       string
	BurstTicks sched.Tick // simulated work per round
	Count      int        // rounds; 0 = forever
}

// Burst returns a task entry that never blocks: it prints and then keeps the
// CPU busy for BurstTicks ticks. Tasks of equal priority share the CPU with it
// only through time slicing; lower priorities starve while it is Ready.
func Burst(out console.Printer) func(*sched.Self, BurstParams) {
	return func(self *sched.Self, p BurstParams) {
		if p.Text == "" {
			p.Text = DefaultText
		}
		if p.BurstTicks <= 0 {
			p.BurstTicks = 1
		}
		for i := 0; p.Count == 0 || i < p.Count; i++ {
			out.Print(p.Text)
			self.Spin(p.BurstTicks)
		}
		self.Exit()
	}
}
