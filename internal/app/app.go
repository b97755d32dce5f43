// Package app wires configuration, logging, tracing and the print
// collaborator around a kernel and runs the demo tasks.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"vrtos/internal/config"
	"vrtos/internal/console"
	"vrtos/internal/job"
	"vrtos/internal/sched"
)

const (
	Banner        = "= = = T E S T   S T A R T E D = = =\r\n\r\n"
	StartFailText = "Could not start the scheduler!!!\r\n"
)

// Deps are the collaborators of a run.
type Deps struct {
	Out       console.Printer
	Log       zerolog.Logger
	Tracers   []sched.Tracer
	TickLimit sched.Tick // 0 = until the context is cancelled
}

// Build creates a kernel and every configured task. Any creation failure is
// returned; the caller must not start a partially built system.
func Build(cfg config.Config, deps Deps) (*sched.Kernel, error) {
	opts := []sched.Option{
		sched.WithLogger(deps.Log),
		sched.WithTracer(sched.LogTracer{Log: deps.Log}),
		sched.WithTracer(deps.Tracers...),
	}
	if deps.TickLimit > 0 {
		opts = append(opts, sched.WithTickLimit(deps.TickLimit))
	}
	k := sched.New(cfg.Kernel, opts...)

	for _, spec := range cfg.Tasks {
		h, err := createTask(k, spec, deps.Out)
		if err != nil {
			return nil, err
		}
		deps.Log.Debug().
			Str("task", spec.Name).
			Str("kind", spec.Kind).
			Int("priority", spec.Priority).
			Stringer("handle", h).
			Msg("task created")
	}
	return k, nil
}

func createTask(k *sched.Kernel, spec config.TaskSpec, out console.Printer) (sched.Handle, error) {
	switch spec.Kind {
	case config.KindBurst:
		p := job.BurstParams{Text: spec.Text, BurstTicks: sched.Tick(spec.BurstTicks), Count: spec.Count}
		return sched.Create(k, job.Burst(out), spec.Name, spec.StackWords, p, spec.Priority)
	case config.KindPrint, "":
		p := &job.Params{Text: spec.Text, DelayMS: spec.DelayMS, Count: spec.Count}
		return sched.Create(k, job.PrintLoop(out), spec.Name, spec.StackWords, p, spec.Priority)
	default:
		return sched.Handle{}, fmt.Errorf("create %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

// Run prints the banner, builds the system and starts the scheduler. It
// returns when the run ends.
func Run(ctx context.Context, cfg config.Config, deps Deps) error {
	deps.Out.Print(Banner)

	k, err := Build(cfg, deps)
	if err != nil {
		return err
	}
	err = k.Start(ctx)
	if errors.Is(err, sched.ErrNoTasksRegistered) || errors.Is(err, sched.ErrAlreadyStarted) {
		deps.Out.Print(StartFailText)
		return err
	}
	logSummary(deps.Log, k.Stats())
	return err
}

func logSummary(log zerolog.Logger, st sched.Stats) {
	idle := 0.0
	if st.Tick > 0 {
		idle = float64(st.IdleTicks) / float64(st.Tick) * 100
	}
	log.Info().
		Str("ticks", humanize.Comma(int64(st.Tick))).
		Str("switches", humanize.Comma(int64(st.ContextSwitches))).
		Str("idle", humanize.FtoaWithDigits(idle, 1)+"%").
		Int("tasks_left", st.Tasks).
		Str("stack_free", humanize.Comma(int64(st.FreeStackWords))+" words").
		Msg("scheduler stopped")
}
