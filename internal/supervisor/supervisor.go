// Package supervisor schedules and runs restic tasks.
//
// One supervisor owns one profile registry at a time. Tasks run strictly
// one at a time: restic repositories do not like concurrent writers from
// the same host, and serial execution keeps bandwidth use predictable.
package supervisor

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"restman/internal/eventbus"
	"restman/internal/history"
	"restman/internal/notify"
	"restman/internal/profile"
	"restman/internal/schedule"
	"restman/internal/state"
	logx "restman/pkg/logx"
)

// pollCap bounds how long the loop sleeps between schedule checks, so a
// config reload or a manual run never waits long to be noticed.
const pollCap = 10 * time.Second

// catchUpWindow bounds how old a persisted last run may be and still
// reschedule from itself; freshRunWindow makes a missed catch-up slot
// yield to a fresh slot that is already close.
const (
	catchUpWindow  = 24 * time.Hour
	freshRunWindow = 12 * time.Hour
)

type Config struct {
	LogsDir string
}

// Supervisor drives the task loop. All task execution, scheduled or
// manual, funnels through runMu.
type Supervisor struct {
	cfg Config
	log logx.Logger

	st     *state.Store
	hist   history.Store
	notify *notify.Service
	bus    eventbus.Bus

	mu      sync.Mutex
	reg     *profile.Registry
	running string // task name while a run is in flight

	// runMu serializes task execution across Loop and RunTask callers.
	runMu sync.Mutex

	// wake is poked by SetRegistry so the loop re-evaluates schedules
	// immediately instead of finishing its sleep.
	wake chan struct{}

	// runProcess is swappable in tests.
	runProcess processRunner
}

func New(cfg Config, st *state.Store, hist history.Store, ntf *notify.Service, bus eventbus.Bus, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
	return &Supervisor{
		cfg:        cfg,
		log:        log,
		st:         st,
		hist:       hist,
		notify:     ntf,
		bus:        bus,
		wake:       make(chan struct{}, 1),
		runProcess: runProcess,
	}
}

// SetRegistry swaps in a freshly loaded registry and reconciles it with
// persisted state. An in-flight run keeps its old profile; the new
// registry takes effect for the next run.
func (s *Supervisor) SetRegistry(reg *profile.Registry) {
	if reg == nil {
		return
	}
	s.restoreState(reg)

	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeReloaded, Data: len(reg.Tasks)})
	}
	s.poke()
}

// Registry returns the current registry (nil before the first SetRegistry).
func (s *Supervisor) Registry() *profile.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

// restoreState merges persisted last-run times into a fresh registry.
//
// A recent last run reschedules from that run, which catches up a slot
// missed while the supervisor was down. Two guards prevent a burst right
// after restart: a last run older than catchUpWindow is kept for display
// only (those tasks wait for their next fresh slot), and a missed
// catch-up slot yields to the fresh schedule when the fresh slot is
// within freshRunWindow, so the task does not run twice back to back.
func (s *Supervisor) restoreState(reg *profile.Registry) {
	if s.st == nil {
		return
	}
	now := time.Now()
	for _, p := range reg.Tasks {
		saved := s.st.LastRun(p.Name)
		if saved.IsZero() {
			continue
		}
		if saved.Before(now.Add(-catchUpWindow)) {
			p.LastRun = saved
			continue
		}
		p.SetLastRun(saved)
		if p.NextRun.IsZero() || p.NextRun.After(now) {
			continue
		}
		if fresh, ok := schedule.Next(p.Schedule(), now); ok && fresh.Sub(now) <= freshRunWindow {
			p.NextRun = fresh
		}
	}
}

// Loop runs the scheduler until ctx is canceled. Meant to be driven by a
// restart-capable runner so an unexpected panic self-heals.
func (s *Supervisor) Loop(ctx context.Context) error {
	if s.st != nil {
		if err := s.st.SetSupervisorPID(os.Getpid()); err != nil {
			s.log.Warn("cannot record supervisor pid", logx.Err(err))
		}
	}
	s.log.Info("supervisor started", logx.String("logs_dir", s.cfg.LogsDir))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p, next := s.nextDue()
		now := time.Now()

		if p != nil && !next.After(now) {
			if _, err := s.RunTask(ctx, p.Name, nil); err != nil {
				s.log.Warn("scheduled run aborted", logx.String("task", p.Name), logx.Err(err))
			}
			continue
		}

		sleep := pollCap
		if p != nil {
			if d := next.Sub(now); d < sleep {
				sleep = d
			}
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// nextDue returns the task with the earliest armed NextRun.
func (s *Supervisor) nextDue() (*profile.Profile, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg == nil {
		return nil, time.Time{}
	}

	var (
		best *profile.Profile
		at   time.Time
	)
	for _, p := range s.reg.Tasks {
		if p.NextRun.IsZero() {
			continue
		}
		if best == nil || p.NextRun.Before(at) {
			best, at = p, p.NextRun
		}
	}
	return best, at
}

func (s *Supervisor) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TaskStatus is a point-in-time view of one task for status surfaces.
type TaskStatus struct {
	Name        string
	Description string
	Repository  string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Running     bool
	ExitCode    int
	LogFile     string
}

// Status reports all runnable tasks, sorted by name.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	reg := s.reg
	runningTask := s.running
	s.mu.Unlock()
	if reg == nil {
		return nil
	}

	out := make([]TaskStatus, 0, len(reg.Tasks))
	for _, p := range reg.Tasks {
		ts := TaskStatus{
			Name:        p.Name,
			Description: p.Description(),
			Repository:  p.Repository(),
			Schedule:    p.Schedule(),
			LastRun:     p.LastRun,
			NextRun:     p.NextRun,
			Running:     p.Name == runningTask,
		}
		if s.st != nil {
			if st, ok := s.st.Task(p.Name); ok {
				ts.ExitCode = st.ExitCode
				ts.LogFile = st.LogFile
			}
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
