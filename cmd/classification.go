package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/racecontrol/racecontrol/control"
)

// classify orders the final standings: running order as reported, with
// disqualified cars moved to the bottom.
func classify(standings []control.CompetitorTelemetry) []control.CompetitorTelemetry {
	out := append([]control.CompetitorTelemetry(nil), standings...)
	sort.SliceStable(out, func(i, j int) bool {
		return !out[i].Disqualified && out[j].Disqualified
	})
	return out
}

// printClassification writes the session summary and the classification.
func printClassification(w io.Writer, s control.Session, standings []control.CompetitorTelemetry) {
	fmt.Fprintln(w, "=== Race Classification ===")
	fmt.Fprintf(w, "Session              : %s\n", s.ID)
	fmt.Fprintf(w, "Phase                : %s (%s flag)\n", s.Phase, s.Flag)
	if s.TotalLaps > 0 {
		fmt.Fprintf(w, "Lap                  : %d/%d\n", s.CurrentLap, s.TotalLaps)
	} else {
		fmt.Fprintf(w, "Lap                  : %d\n", s.CurrentLap)
	}
	fmt.Fprintf(w, "Elapsed              : %.2f s\n", s.Elapsed)
	fmt.Fprintf(w, "Weather              : %s\n", s.Weather)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Pos\tCar\tLaps\tBest\tGap\tPen\tWarn\tTyre\t")
	pos := 0
	for _, t := range classify(standings) {
		label := "DSQ"
		if !t.Disqualified {
			pos++
			label = fmt.Sprintf("%d", pos)
		}
		best := "-"
		if t.BestLapTime > 0 {
			best = fmt.Sprintf("%.3f", t.BestLapTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t+%.3f\t+%.0fs\t%d\t%s %.0f%%\t\n",
			label, t.ID, t.Lap, best, t.GapToLeader, t.TimePenalty, t.Warnings, t.Compound, t.TyreHealth)
	}
	tw.Flush()
}
