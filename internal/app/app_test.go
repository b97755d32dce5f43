package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vrtos/internal/config"
	"vrtos/internal/console"
	"vrtos/internal/sched"
)

type capture struct {
	mu    sync.Mutex
	texts []string
}

func (c *capture) Print(text string) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
}

func (c *capture) count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.texts {
		if t == text {
			n++
		}
	}
	return n
}

func virtualDefault() config.Config {
	cfg := config.Default()
	cfg.Kernel.VirtualTime = true
	return cfg
}

func runWithTimeout(t *testing.T, cfg config.Config, deps Deps) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), cfg, deps) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func TestRun_Demo(t *testing.T) {
	out := &capture{}
	deps := Deps{Out: out, Log: zerolog.Nop(), TickLimit: 12000}
	if err := runWithTimeout(t, virtualDefault(), deps); err != nil {
		t.Fatal(err)
	}

	if len(out.texts) < 3 || out.texts[0] != Banner {
		t.Fatalf("output starts with %q", out.texts)
	}
	// the higher priority task prints first
	if out.texts[1] != "Task1\r\n" || out.texts[2] != "Task2\r\n" {
		t.Errorf("first messages %q, %q", out.texts[1], out.texts[2])
	}
	if n := out.count("Task1\r\n"); n != 6 {
		t.Errorf("Task1 printed %d times in 12000 ticks, want 6", n)
	}
	if n := out.count("Task2\r\n"); n != 4 {
		t.Errorf("Task2 printed %d times in 12000 ticks, want 4", n)
	}
}

func TestRun_NoTasks(t *testing.T) {
	cfg := virtualDefault()
	cfg.Tasks = nil
	out := &capture{}
	err := runWithTimeout(t, cfg, Deps{Out: out, Log: zerolog.Nop()})
	if !errors.Is(err, sched.ErrNoTasksRegistered) {
		t.Fatalf("err = %v", err)
	}
	if out.count(StartFailText) != 1 {
		t.Errorf("start failure not reported: %q", out.texts)
	}
}

func TestBuild_CreationFailureIsReturned(t *testing.T) {
	cfg := virtualDefault()
	cfg.Kernel.MaxTasks = 1
	_, err := Build(cfg, Deps{Out: &capture{}, Log: zerolog.Nop()})
	if !errors.Is(err, sched.ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}
}

func TestBuild_TracersSeeEveryTask(t *testing.T) {
	cfg := virtualDefault()
	cfg.Tasks = append(cfg.Tasks, config.TaskSpec{
		Name: "hog", Kind: config.KindBurst, Text: "hog\r\n", BurstTicks: 5, Count: 2, Priority: 1,
	})

	var mu sync.Mutex
	created := map[string]bool{}
	tr := sched.TracerFunc(func(ev sched.StatusEvent) {
		if ev.Kind == sched.StatusCreate {
			mu.Lock()
			created[ev.Task] = true
			mu.Unlock()
		}
	})

	k, err := Build(cfg, Deps{Out: console.PrinterFunc(func(string) {}), Log: zerolog.Nop(), Tracers: []sched.Tracer{tr}})
	if err != nil {
		t.Fatal(err)
	}
	if k.NumTasks() != 3 {
		t.Errorf("NumTasks = %d", k.NumTasks())
	}
	for _, name := range []string{"task1", "task2", "hog"} {
		if !created[name] {
			t.Errorf("no create event for %s", name)
		}
	}
}
