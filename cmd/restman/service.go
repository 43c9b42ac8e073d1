package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restman/internal/app"
)

func newServiceCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "service",
		Short: "Run the scheduler service (foreground)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(buildOptions(v, true))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}

			<-a.Done()
			stopErr := a.Stop(context.Background())
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
}
