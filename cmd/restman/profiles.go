package main

import (
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restman/internal/app"
)

func newProfilesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List configured profiles and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(buildOptions(v, false))
			if err != nil {
				return err
			}
			defer a.Stop(cmd.Context())

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Task", "Description", "Repository", "Schedule", "Last run", "Next run", "Exit"})
			for _, ts := range a.Tasks().Status() {
				t.AppendRow(table.Row{
					ts.Name, ts.Description, ts.Repository, orManual(ts.Schedule),
					timeCell(ts.LastRun), timeCell(ts.NextRun), ts.ExitCode,
				})
			}
			t.Render()
			return nil
		},
	}
}

func orManual(schedule string) string {
	if schedule == "" {
		return "manual"
	}
	return schedule
}

func timeCell(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
