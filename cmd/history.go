package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/control/bus"
	"github.com/racecontrol/racecontrol/internal/archive"
)

const payloadWidth = 80

var (
	// CLI flags for the history command
	historySession    string // Session to inspect (empty = list sessions)
	historyKind       string // Only events of this kind
	historyDecisions  bool   // Show the decision log instead of raw events
	historyCompetitor string // Only decisions about this competitor
)

// historyCmd reads back a session archive written by `run --archive`
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect archived sessions, events and decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if archivePath == "" {
			return fmt.Errorf("--archive is required")
		}
		db, err := archive.Open(archivePath)
		if err != nil {
			return err
		}
		return showHistory(cmd.Context(), cmd.OutOrStdout(), db, historyQuery{
			session:    historySession,
			kind:       historyKind,
			decisions:  historyDecisions,
			competitor: historyCompetitor,
		})
	},
}

type historyQuery struct {
	session    string
	kind       string
	decisions  bool
	competitor string
}

func showHistory(ctx context.Context, w io.Writer, db *gorm.DB, q historyQuery) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.kind != "" && !slices.Contains(control.AllKinds(), bus.Kind(q.kind)) {
		return fmt.Errorf("unknown event kind %q", q.kind)
	}
	if q.session == "" {
		sessions, err := archive.Sessions(ctx, db)
		if err != nil {
			return err
		}
		printSessions(w, sessions)
		return nil
	}
	if q.decisions {
		rows, err := archive.Decisions(ctx, db, q.session, q.competitor)
		if err != nil {
			return err
		}
		printDecisions(w, rows)
		return nil
	}
	rows, err := archive.Events(ctx, db, q.session, bus.Kind(q.kind))
	if err != nil {
		return err
	}
	printEvents(w, rows)
	return nil
}

func printSessions(w io.Writer, rows []archive.SessionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No sessions archived.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tSEED\tLAPS\tTRACK")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Seed, s.TotalLaps, s.Track)
	}
	tw.Flush()
}

func printEvents(w io.Writer, rows []archive.EventRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCLOCK\tKIND\tPAYLOAD")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\n", r.Seq, r.Clock, r.Kind, truncate(r.Payload, payloadWidth))
	}
	tw.Flush()
}

func printDecisions(w io.Writer, rows []archive.DecisionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No decisions found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLOCK\tACTION\tCAR\tFLAG\tSC\tMESSAGE")
	for _, d := range rows {
		car := d.CompetitorID
		if car == "" {
			car = "-"
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			d.DecisionID, d.Clock, d.Action, car, d.Flag, d.SafetyCar, d.Message)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
