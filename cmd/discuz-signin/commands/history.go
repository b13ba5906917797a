package commands

import (
	"discuz-signin/internal/checkin"
	"discuz-signin/internal/history"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newHistoryCmd(load func() (*app, error)) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [--limit <n>]",
		Short: "Lists the most recent runs recorded in the history database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if a.cfg.History.Empty() {
				return errors.New("no history database configured, set history.file or history.url")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			store, err := history.Open(cmd.Context(), a.cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			location, err := time.LoadLocation(a.cfg.Schedule.Timezone)
			if err != nil {
				location = time.UTC
			}
			renderHistory(a.env.Stdout, reports, location)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "The number of runs to show.")
	return cmd
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderHistory(w io.Writer, reports []checkin.Report, location *time.Location) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Started", "Took", "Host", "User", "Login", "Check-in", "Visits", "Coins", "Error"})
	for _, r := range reports {
		checkinCell := "-"
		if r.SigninStatus != 0 {
			checkinCell = fmt.Sprintf("%d %s", r.SigninStatus, yesNo(r.SigninOk))
		}
		t.AppendRow(table.Row{
			r.RunId,
			r.StartedAt.In(location).Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
			r.Host,
			r.Username,
			yesNo(r.LoggedIn),
			checkinCell,
			r.Visits,
			r.Coins,
			r.Error,
		})
	}
	t.Render()
}
