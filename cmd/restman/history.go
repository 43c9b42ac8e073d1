package main

import (
	"errors"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restman/internal/app"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [profile]",
		Short: "Show recent task runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(buildOptions(v, false))
			if err != nil {
				return err
			}
			defer a.Stop(cmd.Context())

			if a.History() == nil {
				return errors.New("history is disabled (--history-driver none)")
			}

			task := ""
			if len(args) == 1 {
				task = args[0]
			}
			recs, err := a.History().RecentRuns(cmd.Context(), task, limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Task", "Started", "Took", "Outcome", "Exit", "Log"})
			for _, r := range recs {
				t.AppendRow(table.Row{
					r.Task,
					r.StartedAt.Format("2006-01-02 15:04"),
					r.Duration().Round(time.Second).String(),
					r.Outcome, r.ExitCode, r.LogFile,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}
