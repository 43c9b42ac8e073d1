// Package state persists per-task run state in a section-based status file.
//
// One section per task plus a reserved section for supervisor metadata.
// Every update rewrites the whole file; a crash mid-run therefore leaves a
// forensic record (non-zero pid/started with no matching last_run update)
// that is visible on restart. An unreadable or corrupt file is treated as
// "no prior state".
package state

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	ini "gopkg.in/ini.v1"

	logx "restman/pkg/logx"
)

// SupervisorSection is reserved for supervisor-wide metadata (its own pid).
// The leading underscores keep it clear of profile names.
const SupervisorSection = "__restman__"

// TaskState is the durable record kept per task.
type TaskState struct {
	Started  int64 // epoch seconds; 0 when idle
	PID      int   // 0 when idle
	LastRun  int64 // epoch seconds of last completed run
	ExitCode int
	LogFile  string // basename of the last run's log artifact
}

// Store is a file-backed task state store. The design assumes exactly one
// supervisor per store path; the supervisor records its pid so a second
// instance (or an operator) can detect the conflict.
type Store struct {
	mu   sync.Mutex
	path string
	file *ini.File
	log  logx.Logger
}

// Open loads the status file at path. Missing or unreadable files yield an
// empty store: all tasks start with unset last_run.
func Open(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	f, err := ini.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("status file unreadable; starting with empty state",
				logx.String("path", path), logx.Err(err))
		}
		f = ini.Empty()
	}
	return &Store{path: path, file: f, log: log}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Task returns the persisted state for a task, if any.
func (s *Store) Task(name string) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, err := s.file.GetSection(name)
	if err != nil {
		return TaskState{}, false
	}
	return TaskState{
		Started:  sec.Key("started").MustInt64(0),
		PID:      sec.Key("pid").MustInt(0),
		LastRun:  sec.Key("last_run").MustInt64(0),
		ExitCode: sec.Key("exit_code").MustInt(0),
		LogFile:  sec.Key("log_file").String(),
	}, true
}

// LastRun returns the persisted last run time of a task (zero when unknown).
func (s *Store) LastRun(name string) time.Time {
	st, ok := s.Task(name)
	if !ok || st.LastRun == 0 {
		return time.Time{}
	}
	return time.Unix(st.LastRun, 0)
}

// Put merges values into the named section. When write is true the whole
// file is rewritten; batching with write=false lets load-time setup flush
// once at the end.
func (s *Store) Put(section string, values map[string]string, write bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.file.Section(section)
	for k, v := range values {
		sec.Key(k).SetValue(v)
	}
	if !write {
		return nil
	}
	return s.flushLocked()
}

// MarkStarted persists the Running transition for a task.
func (s *Store) MarkStarted(name string, started time.Time, pid int) error {
	return s.Put(name, map[string]string{
		"started": strconv.FormatInt(started.Unix(), 10),
		"pid":     strconv.Itoa(pid),
	}, true)
}

// MarkFinished persists the run completion and returns the task to idle.
func (s *Store) MarkFinished(name string, lastRun time.Time, exitCode int, logFile string) error {
	return s.Put(name, map[string]string{
		"last_run":  strconv.FormatInt(lastRun.Unix(), 10),
		"exit_code": strconv.Itoa(exitCode),
		"pid":       "0",
		"log_file":  logFile,
	}, true)
}

// SetSupervisorPID records the supervisor's own pid in the reserved section.
func (s *Store) SetSupervisorPID(pid int) error {
	return s.Put(SupervisorSection, map[string]string{"pid": strconv.Itoa(pid)}, true)
}

// SupervisorPID returns the recorded supervisor pid (0 when absent).
func (s *Store) SupervisorPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, err := s.file.GetSection(SupervisorSection)
	if err != nil {
		return 0
	}
	return sec.Key("pid").MustInt(0)
}

// Flush rewrites the file from the in-memory state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes via a temp file + rename so readers never observe a
// partially written status file.
func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := s.file.SaveTo(tmp); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
