package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restman/internal/app"
	"restman/internal/history"
	"restman/internal/notify"
	logx "restman/pkg/logx"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "restman",
		Short:         "Profile-based restic backup manager and scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	base := defaultBaseDir()
	pf := root.PersistentFlags()
	pf.String("config", filepath.Join(base, "config.ini"), "profile configuration file (.ini or .yaml)")
	pf.String("state", filepath.Join(base, "status.ini"), "task state file")
	pf.String("logs-dir", filepath.Join(base, "logs"), "directory for per-run log files")
	pf.String("log-level", "INFO", "service log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	pf.String("log-file", "", "append service logs to this file")
	pf.String("history-driver", "file", "run history backend: file, sqlite or none")
	pf.String("history-path", filepath.Join(base, "history.jsonl"), "run history file or database path")
	pf.String("notify-driver", "command", "notification delivery: command or log")
	pf.StringSlice("notify-command", nil, "custom notifier command (title and body are appended)")
	pf.Bool("no-notify", false, "disable desktop notifications")

	// Every flag is also settable via RESTMAN_* environment variables,
	// e.g. RESTMAN_CONFIG, RESTMAN_LOG_LEVEL.
	v.SetEnvPrefix("RESTMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(pf)

	root.AddCommand(
		newServiceCmd(v),
		newRunCmd(v),
		newProfilesCmd(v),
		newHistoryCmd(v),
	)
	return root
}

func defaultBaseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "restman")
	}
	return "."
}

// buildOptions maps flags/env to app options. Service mode enables the
// notification pipeline and file logging; one-shot commands run quiet.
func buildOptions(v *viper.Viper, service bool) app.Options {
	opts := app.Options{
		ConfigPath: v.GetString("config"),
		StatePath:  v.GetString("state"),
		LogsDir:    v.GetString("logs-dir"),
		Logging: logx.Config{
			Level:   v.GetString("log-level"),
			Console: true,
		},
		History: history.Config{
			Driver: v.GetString("history-driver"),
			Path:   v.GetString("history-path"),
		},
		NotifyDriver:  v.GetString("notify-driver"),
		NotifyCommand: v.GetStringSlice("notify-command"),
	}
	if lf := v.GetString("log-file"); lf != "" {
		opts.Logging.File = logx.FileConfig{Enabled: true, Path: lf}
	}
	if service {
		opts.Notify = notify.Config{Enabled: !v.GetBool("no-notify")}
	}
	return opts
}
