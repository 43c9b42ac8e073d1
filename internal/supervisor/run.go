package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"restman/internal/eventbus"
	"restman/internal/history"
	"restman/internal/notify"
	"restman/internal/profile"
	logx "restman/pkg/logx"
)

// launchFailure is the sentinel exit code recorded when the process could
// not be started at all (binary missing, permission denied).
const launchFailure = -1

// staleLockMarker is the hint restic prints when a repository holds locks
// from a dead process.
const staleLockMarker = "remove stale locks"

// tailLines bounds the output ring kept for notifications and for the
// stale lock check.
const tailLines = 8

// RunResult summarizes one completed task run.
type RunResult struct {
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Outcome    string // "ok", "warn", "fail"
	LogFile    string
	Retried    bool
	Lines      int
	Tail       []string
}

type runRequest struct {
	argv    []string
	env     map[string]string
	line    func(string)
	started func(pid int)
}

type processRunner func(ctx context.Context, req runRequest) (exitCode int, err error)

// RunTask executes one task to completion, serialized against every other
// run. Override args replace the profile's default command and args (so
// any restic subcommand can be run against a profile's repository).
func (s *Supervisor) RunTask(ctx context.Context, name string, overrideArgs []string) (RunResult, error) {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	if reg == nil {
		return RunResult{}, errors.New("no configuration loaded")
	}
	p, ok := reg.Profiles[name]
	if !ok {
		return RunResult{}, fmt.Errorf("unknown profile %q", name)
	}
	if len(overrideArgs) == 0 && !p.Runnable() {
		return RunResult{}, fmt.Errorf("profile %q has no command to run", name)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.running = name
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = ""
		s.mu.Unlock()
	}()

	res := s.runOnce(ctx, p, overrideArgs, false)

	// A failed run whose final output suggests stale repository locks gets
	// one unlock-and-retry. Anything still failing after that is real.
	if res.Outcome == "fail" && res.ExitCode != launchFailure && hasStaleLockHint(res.Tail) {
		s.log.Info("stale lock suspected; unlocking and retrying", logx.String("task", name))
		if s.unlock(ctx, p) {
			res = s.runOnce(ctx, p, overrideArgs, true)
		}
	}

	s.finish(ctx, p, res)
	return res, nil
}

// runOnce performs a single process execution with full logging.
func (s *Supervisor) runOnce(ctx context.Context, p *profile.Profile, overrideArgs []string, retried bool) RunResult {
	start := time.Now()
	argv, env := profile.BuildCommand(p, overrideArgs)

	res := RunResult{
		Task:      p.Name,
		StartedAt: start,
		Retried:   retried,
		LogFile:   start.Format("2006.01.02_15.04") + "-" + p.Name + ".txt",
	}

	logPath := filepath.Join(s.cfg.LogsDir, res.LogFile)
	artifact, err := s.openArtifact(logPath, p, argv, start)
	if err != nil {
		s.log.Warn("cannot create run log; output goes to the service log only",
			logx.String("task", p.Name), logx.Err(err))
		artifact = nil
	}

	// Backup runs filter the per-file "unchanged" noise out of the
	// artifact; everything else is kept verbatim.
	cmdName := commandName(p, overrideArgs)
	filterUnchanged := cmdName == "backup"

	var tail []string
	sink := func(line string) {
		res.Lines++
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
		if artifact != nil {
			if filterUnchanged && strings.HasPrefix(line, "unchanged ") {
				return
			}
			fmt.Fprintln(artifact, line)
		}
	}

	s.log.Info("task starting", logx.String("task", p.Name),
		logx.String("command", cmdName), logx.Bool("retry", retried))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted,
			Data: eventbus.TaskEvent{Task: p.Name}})
	}

	exit, runErr := s.runProcess(ctx, runRequest{
		argv: argv,
		env:  env,
		line: sink,
		started: func(pid int) {
			if s.st != nil {
				if err := s.st.MarkStarted(p.Name, start, pid); err != nil {
					s.log.Warn("cannot persist task start", logx.String("task", p.Name), logx.Err(err))
				}
			}
		},
	})
	if runErr != nil && exit == 0 {
		exit = launchFailure
		sink("launch failed: " + runErr.Error())
	}

	res.FinishedAt = time.Now()
	res.ExitCode = exit
	res.Tail = append([]string(nil), tail...)
	res.Outcome = classify(cmdName, exit)

	if artifact != nil {
		fmt.Fprintf(artifact, "\nexit code %d after %s\n", exit, res.FinishedAt.Sub(start).Round(time.Second))
		if err := artifact.Close(); err != nil {
			s.log.Warn("run log close failed", logx.String("path", logPath), logx.Err(err))
		}
	}
	return res
}

// finish records the outcome everywhere it needs to go: profile schedule,
// state file, history store, event bus, notifications.
func (s *Supervisor) finish(ctx context.Context, p *profile.Profile, res RunResult) {
	p.SetLastRun(res.StartedAt)

	if s.st != nil {
		if err := s.st.MarkFinished(p.Name, res.StartedAt, res.ExitCode, res.LogFile); err != nil {
			s.log.Warn("cannot persist task finish", logx.String("task", p.Name), logx.Err(err))
		}
	}
	if s.hist != nil {
		rec := history.RunRecord{
			Task:       res.Task,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			ExitCode:   res.ExitCode,
			Outcome:    res.Outcome,
			LogFile:    res.LogFile,
			Retried:    res.Retried,
			Lines:      res.Lines,
		}
		if err := s.hist.AppendRun(ctx, rec); err != nil {
			s.log.Warn("cannot append run history", logx.String("task", p.Name), logx.Err(err))
		}
	}

	excerpt := notify.Excerpt(res.Tail)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: eventbus.TaskEvent{
			Task: res.Task, Outcome: res.Outcome, ExitCode: res.ExitCode,
			LogFile: res.LogFile, Tail: excerpt,
		}})
	}

	switch res.Outcome {
	case "ok":
		s.log.Info("task finished", logx.String("task", res.Task),
			logx.Duration("took", res.FinishedAt.Sub(res.StartedAt)), logx.Int("lines", res.Lines))
	case "warn":
		s.log.Warn("task finished with warnings", logx.String("task", res.Task),
			logx.Int("exit_code", res.ExitCode), logx.String("log_file", res.LogFile))
	default:
		s.log.Error("task failed", logx.String("task", res.Task),
			logx.Int("exit_code", res.ExitCode), logx.String("log_file", res.LogFile))
	}

	if s.notify != nil && p.Notifications() {
		title := notifyTitle(res)
		err := s.notify.Notify(ctx, notify.Message{
			Task:    res.Task,
			Outcome: res.Outcome,
			Title:   title,
			Body:    excerpt,
			At:      res.FinishedAt,
		})
		if err != nil && !errors.Is(err, notify.ErrDisabled) {
			s.log.Debug("notification not queued", logx.String("task", res.Task), logx.Err(err))
		}
	}
}

// unlock runs `restic unlock` against the profile's repository. Output is
// not logged to an artifact; the hint lines land in the service log.
func (s *Supervisor) unlock(ctx context.Context, p *profile.Profile) bool {
	argv, env := profile.BuildCommand(p, []string{"unlock"})
	exit, err := s.runProcess(ctx, runRequest{
		argv: argv,
		env:  env,
		line: func(line string) {
			s.log.Debug("unlock", logx.String("task", p.Name), logx.String("line", line))
		},
	})
	if err != nil || exit != 0 {
		s.log.Warn("unlock failed", logx.String("task", p.Name),
			logx.Int("exit_code", exit), logx.Err(err))
		return false
	}
	return true
}

func (s *Supervisor) openArtifact(path string, p *profile.Profile, argv []string, start time.Time) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "task: %s (%s)\n", p.Name, p.Description())
	if repo := p.Repository(); repo != "" {
		fmt.Fprintf(f, "repository: %s\n", repo)
	}
	fmt.Fprintf(f, "command: %s\n", shellquote.Join(argv...))
	fmt.Fprintf(f, "started: %s\n\n", start.Format(time.RFC3339))
	return f, nil
}

func commandName(p *profile.Profile, overrideArgs []string) string {
	if len(overrideArgs) > 0 {
		return overrideArgs[0]
	}
	if c := p.Command(); len(c) > 0 {
		return c[0]
	}
	return ""
}

func classify(command string, exit int) string {
	switch {
	case exit == 0:
		return "ok"
	case exit == 3 && command == "backup":
		// restic exits 3 when some files could not be read but the
		// snapshot was still created.
		return "warn"
	default:
		return "fail"
	}
}

func hasStaleLockHint(tail []string) bool {
	for i := len(tail) - 1; i >= 0; i-- {
		line := strings.TrimSpace(tail[i])
		if line == "" {
			continue
		}
		return strings.Contains(line, staleLockMarker)
	}
	return false
}

func notifyTitle(res RunResult) string {
	switch res.Outcome {
	case "ok":
		return fmt.Sprintf("%s finished", res.Task)
	case "warn":
		return fmt.Sprintf("%s finished with warnings (exit %d)", res.Task, res.ExitCode)
	default:
		return fmt.Sprintf("%s failed (exit %d)", res.Task, res.ExitCode)
	}
}

// runProcess starts argv with env merged over the parent environment and
// streams merged stdout+stderr line by line into req.line.
func runProcess(ctx context.Context, req runRequest) (int, error) {
	if len(req.argv) == 0 {
		return 0, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, req.argv[0], req.argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range req.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return 0, err
	}
	// The child holds its own copy of the write end; ours must go so the
	// read side sees EOF when the child exits.
	pw.Close()

	if req.started != nil {
		req.started(cmd.Process.Pid)
	}

	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if req.line != nil {
			req.line(sc.Text())
		}
	}
	pr.Close()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
