package notify

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"

	logx "restman/pkg/logx"
)

// Sink delivers one message. Implementations must be safe for concurrent
// use; the service owns queueing, rate limiting and retries.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// CommandSink spawns a desktop notifier per message.
//
// With an empty Command it picks the platform default (notify-send on
// Linux, terminal-notifier on macOS). A custom Command receives the title
// and body as its two trailing arguments.
type CommandSink struct {
	Command []string
}

func (CommandSink) Name() string { return "command" }

func (c CommandSink) Send(ctx context.Context, m Message) error {
	argv := c.Command
	if len(argv) == 0 {
		switch runtime.GOOS {
		case "darwin":
			argv = []string{"terminal-notifier", "-title", m.Title, "-message", m.Body}
		default:
			argv = []string{"notify-send", m.Title, m.Body}
		}
	} else {
		argv = append(append([]string(nil), argv...), m.Title, m.Body)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if s := strings.TrimSpace(string(out)); s != "" {
			return errors.New(err.Error() + ": " + s)
		}
		return err
	}
	return nil
}

// LogSink writes messages to the structured log. Useful on headless hosts
// and as a fallback when no desktop notifier is installed.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (l LogSink) Send(ctx context.Context, m Message) error {
	_ = ctx
	log := l.Log
	if log.IsZero() {
		return nil
	}
	fields := []logx.Field{
		logx.String("task", m.Task),
		logx.String("outcome", m.Outcome),
		logx.String("body", m.Body),
	}
	if m.Outcome == "fail" || m.Outcome == "error" {
		log.Warn(m.Title, fields...)
	} else {
		log.Info(m.Title, fields...)
	}
	return nil
}
