package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restman/internal/app"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run <profile> [restic-args...]",
		Short: "Run one profile immediately",
		Long: `Run one profile immediately, in the foreground.

Extra arguments replace the profile's configured command, so any restic
subcommand can be pointed at a profile's repository:

  restman run nightly
  restman run nightly snapshots
  restman run nightly mount /mnt/restic`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(buildOptions(v, false))
			if err != nil {
				return err
			}
			defer a.Stop(context.Background())

			res, err := a.Tasks().RunTask(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			switch res.Outcome {
			case "ok":
				fmt.Printf("%s finished (log: %s)\n", res.Task, res.LogFile)
				return nil
			case "warn":
				fmt.Printf("%s finished with warnings, exit code %d (log: %s)\n",
					res.Task, res.ExitCode, res.LogFile)
				return nil
			default:
				return fmt.Errorf("%s failed with exit code %d (log: %s)",
					res.Task, res.ExitCode, res.LogFile)
			}
		},
	}
}
