package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/permissions"
	"github.com/offlinefirst/desktop-recorder/pkg/replay"
	"github.com/offlinefirst/desktop-recorder/pkg/screenshots"
)

func newReplayCommand() command {
	return command{
		name:        "replay",
		usage:       "[strategy-name]",
		description: "Replay the merged actions of a recording",
		configure: func(fs *flag.FlagSet) {
			fs.String("recording", "", "Recording ID to replay (default: most recent)")
			fs.Bool("instant", false, "Dispatch actions back to back instead of at recorded pace")
		},
		run: runReplay,
	}
}

// strategies is the registry consulted by the replay command.
var strategies = replay.DefaultRegistry()

func runReplay(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := ctx.Config

	name := cfg.Replay.Strategy
	if len(args) > 0 {
		name = strings.ToLower(strings.TrimSpace(args[0]))
	}
	if _, ok := strategies[name]; !ok {
		return fmt.Errorf("%w: %q (available: %s)", replay.ErrUnknownStrategy, name, strings.Join(strategies.Names(), ", "))
	}

	probes := permissions.ProbeAll(lookupEnv, permissions.SurfaceAccessibility)
	logProbes(ctx.Logger, probes)
	if err := permissions.Denied(probes); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	runCtx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := loadSession(runCtx, cfg, stringFlag(fs, "recording"))
	if err != nil {
		return err
	}
	logger := ctx.Logger.With(zap.String("recording_id", session.Recording.ID), zap.String("strategy", name))

	merged, err := mergeSession(cfg, session, logger)
	if err != nil {
		return err
	}

	strategy, err := strategies.New(name, replay.Params{
		Recording: session.Recording,
		Actions:   merged.Actions,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	clock := events.NewMonotonicClock(time.Now())
	engine, err := replay.NewEngine(replay.Options{
		Strategy: strategy,
		Injector: replay.NewDryRunInjector(logger),
		Frames:   screenshots.NewFrameGrabber(screenshots.DefaultProvider(cfg.Capture.ScreenWidth, cfg.Capture.ScreenHeight), clock),
		Realtime: cfg.Replay.Realtime && !boolFlag(fs, "instant"),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialise replay: %w", err)
	}

	fmt.Fprintf(stdout, "Replaying %s (%s) with strategy %q\n", session.Recording.ID, session.Recording.TaskDescription, name)
	report, err := engine.Run(runCtx)
	fmt.Fprintf(stdout, "Replay %s: %s of %s actions, %s primitives in %s\n",
		report.State,
		humanize.Comma(int64(report.Actions)),
		humanize.Comma(int64(len(merged.Actions))),
		humanize.Comma(int64(report.Primitives)),
		report.Elapsed.Round(time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}
