package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/merge"
	"github.com/offlinefirst/desktop-recorder/pkg/runmanifest"
)

func newInspectCommand() command {
	return command{
		name:        "inspect",
		description: "Print the merged action tree of a recording",
		configure: func(fs *flag.FlagSet) {
			fs.String("recording", "", "Recording ID to inspect (default: most recent)")
			fs.Bool("export", false, "Also write the merged tree to merged.json in the run directory")
		},
		run: runInspect,
	}
}

type exportNode struct {
	Kind        events.Kind  `json:"kind"`
	TimestampMS float64      `json:"timestamp_ms"`
	Label       string       `json:"label"`
	Children    []exportNode `json:"children,omitempty"`
}

type mergedExport struct {
	RecordingID string           `json:"recording_id"`
	Iterations  int              `json:"iterations"`
	RemovedMS   map[string]int64 `json:"removed_ms"`
	Actions     []exportNode     `json:"actions"`
}

func runInspect(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := ctx.Config

	session, err := loadSession(context.Background(), cfg, stringFlag(fs, "recording"))
	if err != nil {
		return err
	}
	rec := session.Recording

	fmt.Fprintf(stdout, "Recording %s\n", rec.ID)
	fmt.Fprintf(stdout, "  task: %s\n", rec.TaskDescription)
	fmt.Fprintf(stdout, "  started: %s (%s)\n", rec.StartedAt.Format(time.RFC3339), humanize.Time(rec.StartedAt))
	if rec.Finalized {
		fmt.Fprintf(stdout, "  duration: %s\n", rec.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintln(stdout, "  duration: unfinalized")
	}
	fmt.Fprintf(stdout, "  platform: %s, monitor %dx%d, double-click %s / %gpx\n",
		rec.Platform, rec.Monitor.Width, rec.Monitor.Height, rec.DoubleClickInterval, rec.DoubleClickDistance)

	var frameBytes uint64
	for _, f := range session.Frames {
		frameBytes += uint64(len(f.PNG))
	}
	fmt.Fprintf(stdout, "  raw: %s actions, %s window snapshots, %s screen frames (%s)\n",
		humanize.Comma(int64(len(session.Actions))),
		humanize.Comma(int64(len(session.Windows))),
		humanize.Comma(int64(len(session.Frames))),
		humanize.Bytes(frameBytes),
	)

	merged, err := mergeSession(cfg, session, ctx.Logger)
	if errors.Is(err, merge.ErrNoEvents) {
		fmt.Fprintln(stdout, "  no actions to merge")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Merged: %s top-level actions after %d iterations, %s absorbed\n",
		humanize.Comma(int64(len(merged.Actions))), merged.Iterations, merged.TotalRemoved())
	for _, pass := range sortedPasses(merged.Removed) {
		if merged.Removed[pass] > 0 {
			fmt.Fprintf(stdout, "  %-24s %s\n", pass, merged.Removed[pass])
		}
	}
	for _, ev := range merged.Actions {
		printTree(stdout, ev, 1)
	}

	if !boolFlag(fs, "export") {
		return nil
	}
	layout, _, err := runmanifest.FindByRecording(cfg.Paths.RunsDir, rec.ID)
	if err != nil {
		return fmt.Errorf("locate run directory: %w", err)
	}
	if err := runmanifest.SaveMerged(exportMerged(rec.ID, merged), layout.MergedPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Exported merged tree: %s\n", layout.MergedPath)
	return nil
}

func printTree(w io.Writer, ev events.ActionEvent, depth int) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), ev)
	for _, child := range ev.Children {
		printTree(w, child, depth+1)
	}
}

func exportMerged(id string, res merge.Result) mergedExport {
	out := mergedExport{
		RecordingID: id,
		Iterations:  res.Iterations,
		RemovedMS:   make(map[string]int64, len(res.Removed)),
	}
	for pass, d := range res.Removed {
		out.RemovedMS[pass] = d.Milliseconds()
	}
	for _, ev := range res.Actions {
		out.Actions = append(out.Actions, exportTree(ev))
	}
	return out
}

func exportTree(ev events.ActionEvent) exportNode {
	node := exportNode{
		Kind:        ev.Kind,
		TimestampMS: float64(ev.Timestamp) / float64(time.Millisecond),
		Label:       ev.String(),
	}
	for _, child := range ev.Children {
		node.Children = append(node.Children, exportTree(child))
	}
	return node
}

func sortedPasses(m map[string]time.Duration) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
