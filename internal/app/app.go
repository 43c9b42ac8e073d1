// Package app wires the pieces together: logging, config, state, history,
// notifications and the task supervisor, each under a restart-capable
// runtime supervisor.
package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"restman/internal/config"
	"restman/internal/eventbus"
	"restman/internal/history"
	"restman/internal/notify"
	rtsup "restman/internal/runtime/supervisor"
	"restman/internal/state"
	"restman/internal/supervisor"
	logx "restman/pkg/logx"
)

// Options is the flattened runtime configuration, filled by the CLI from
// flags and environment variables.
type Options struct {
	ConfigPath string
	StatePath  string
	LogsDir    string

	Logging logx.Config
	History history.Config

	Notify        notify.Config
	NotifyDriver  string // "command" (default) or "log"
	NotifyCommand []string
}

type App struct {
	opts Options

	log  logx.Logger
	logs *logx.Service

	cfgm  *config.Manager
	bus   eventbus.Bus
	st    *state.Store
	hist  history.Store
	ntf   *notify.Service
	tasks *supervisor.Supervisor

	sup *rtsup.Supervisor
}

func New(opts Options) (*App, error) {
	logSvc, log := logx.New(opts.Logging)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	cfgm := config.NewManager(opts.ConfigPath)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	reg, err := cfgm.Load()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	st := state.Open(opts.StatePath, log.With(logx.String("comp", "state")))

	hist, err := history.Open(opts.History, log.With(logx.String("comp", "history")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if hist != nil {
		log.Info("history enabled", logx.String("driver", opts.History.Driver))
	}

	var sink notify.Sink
	switch opts.NotifyDriver {
	case "log":
		sink = notify.LogSink{Log: log.With(logx.String("comp", "notify"))}
	default:
		sink = notify.CommandSink{Command: opts.NotifyCommand}
	}
	ntf := notify.New(opts.Notify, sink, log.With(logx.String("comp", "notify")), bus)

	tasks := supervisor.New(supervisor.Config{LogsDir: opts.LogsDir},
		st, hist, ntf, bus, log.With(logx.String("comp", "supervisor")))
	tasks.SetRegistry(reg)

	return &App{
		opts:  opts,
		log:   log,
		logs:  logSvc,
		cfgm:  cfgm,
		bus:   bus,
		st:    st,
		hist:  hist,
		ntf:   ntf,
		tasks: tasks,
	}, nil
}

// Tasks exposes the task supervisor to command surfaces.
func (a *App) Tasks() *supervisor.Supervisor { return a.tasks }

func (a *App) Config() *config.Manager { return a.cfgm }

func (a *App) History() history.Store { return a.hist }

func (a *App) State() *state.Store { return a.st }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the long-running service loops. It returns immediately;
// use Done() to wait for termination.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	if a.ntf != nil && a.ntf.Enabled() {
		a.ntf.Start(a.sup.Context())
	}

	a.sup.GoRestart("supervisor.loop", a.tasks.Loop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case reg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest registry.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							reg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				if reg == nil {
					continue
				}
				a.tasks.SetRegistry(reg)
				a.log.Info("profiles reloaded",
					logx.Int("profiles", len(reg.Profiles)), logx.Int("tasks", len(reg.Tasks)))
			}
		}
	})

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// Under systemd, Type=notify units wait for this before the unit is "active".
	// Outside systemd SdNotify is a no-op.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

// Stop shuts everything down, draining pending notifications until ctx
// expires.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var firstErr error
	if a.sup != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.sup.Stop(stopCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	if a.ntf != nil {
		a.ntf.Stop(ctx)
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.st != nil {
		if err := a.st.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
