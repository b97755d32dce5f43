package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"vrtos/internal/console"
	"vrtos/internal/sched"
)

type line struct {
	tick sched.Tick
	text string
}

// recorder stamps every printed text with the kernel tick.
type recorder struct {
	mu    sync.Mutex
	k     *sched.Kernel
	lines []line
}

func (r *recorder) printer() console.Printer {
	return console.PrinterFunc(func(text string) {
		tick := r.k.TickCount()
		r.mu.Lock()
		r.lines = append(r.lines, line{tick, text})
		r.mu.Unlock()
	})
}

func (r *recorder) ticks(text string) []sched.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sched.Tick
	for _, l := range r.lines {
		if l.text == text {
			out = append(out, l.tick)
		}
	}
	return out
}

func newKernel(limit sched.Tick) *sched.Kernel {
	cfg := sched.DefaultConfig()
	cfg.VirtualTime = true
	return sched.New(cfg, sched.WithTickLimit(limit))
}

func start(t *testing.T, k *sched.Kernel) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- k.Start(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("kernel did not halt")
	}
}

func equal(got, want []sched.Tick) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestPrintLoop_NilParamsUseDefaults(t *testing.T) {
	k := newKernel(3500)
	r := &recorder{k: k}
	if _, err := sched.Create(k, PrintLoop(r.printer()), "noparam", 0, (*Params)(nil), 1); err != nil {
		t.Fatal(err)
	}
	start(t, k)

	want := []sched.Tick{0, 1000, 2000, 3000}
	if got := r.ticks(DefaultText); !equal(got, want) {
		t.Errorf("default prints at %v, want %v", got, want)
	}
}

func TestPrintLoop_ZeroDelayUsesDefault(t *testing.T) {
	k := newKernel(2500)
	r := &recorder{k: k}
	p := &Params{Text: "zero"}
	if _, err := sched.Create(k, PrintLoop(r.printer()), "zero", 0, p, 1); err != nil {
		t.Fatal(err)
	}
	start(t, k)

	if got, want := r.ticks("zero"), []sched.Tick{0, 1000, 2000}; !equal(got, want) {
		t.Errorf("prints at %v, want %v", got, want)
	}
}

func TestPrintLoop_CountExits(t *testing.T) {
	k := newKernel(100)
	r := &recorder{k: k}
	p := &Params{Text: "x", DelayMS: 10, Count: 3}
	if _, err := sched.Create(k, PrintLoop(r.printer()), "counted", 0, p, 1); err != nil {
		t.Fatal(err)
	}
	start(t, k)

	if got, want := r.ticks("x"), []sched.Tick{0, 10, 20}; !equal(got, want) {
		t.Errorf("prints at %v, want %v", got, want)
	}
	if n := k.NumTasks(); n != 0 {
		t.Errorf("%d tasks left after Exit", n)
	}
}

func TestPrintLoop_TickMSScalesDelay(t *testing.T) {
	cfg := sched.DefaultConfig()
	cfg.VirtualTime = true
	cfg.TickMS = 10
	k := sched.New(cfg, sched.WithTickLimit(250))
	r := &recorder{k: k}
	p := &Params{Text: "x", DelayMS: 1000}
	if _, err := sched.Create(k, PrintLoop(r.printer()), "scaled", 0, p, 1); err != nil {
		t.Fatal(err)
	}
	start(t, k)

	if got, want := r.ticks("x"), []sched.Tick{0, 100, 200}; !equal(got, want) {
		t.Errorf("prints at %v, want %v", got, want)
	}
}

func TestBurst_TimeSlicesEqualPriority(t *testing.T) {
	k := newKernel(100)
	r := &recorder{k: k}
	out := r.printer()
	for _, name := range []string{"a", "b"} {
		p := BurstParams{Text: name, BurstTicks: 3, Count: 2}
		if _, err := sched.Create(k, Burst(out), name, 0, p, 2); err != nil {
			t.Fatal(err)
		}
	}
	start(t, k)

	a, b := r.ticks("a"), r.ticks("b")
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("a printed %v, b printed %v", a, b)
	}
	if a[0] != 0 || b[0] != 1 {
		t.Errorf("first prints at a=%d b=%d, want 0 and 1", a[0], b[0])
	}
	if n := k.NumTasks(); n != 0 {
		t.Errorf("%d tasks left after Exit", n)
	}
}

func TestBurst_StarvesLowerPriority(t *testing.T) {
	k := newKernel(100)
	r := &recorder{k: k}
	out := r.printer()
	if _, err := sched.Create(k, Burst(out), "hog", 0, BurstParams{Text: "hog", BurstTicks: 20, Count: 1}, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Create(k, PrintLoop(out), "low", 0, &Params{Text: "low", DelayMS: 1000}, 1); err != nil {
		t.Fatal(err)
	}
	start(t, k)

	if got := r.ticks("low"); len(got) != 1 || got[0] != 20 {
		t.Errorf("low priority printed at %v, want [20]", got)
	}
}
