package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/gpx"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/internal/repository"
	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/internal/splits"
	"github.com/flybeeper/runtracker/pkg/utils"
)

var (
	replayStoreDSN  string
	replayAutoPause bool
	replayVerbose   bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayStoreDSN, "store", ":memory:", "SQLite DSN for the replayed run")
	replayCmd.Flags().BoolVar(&replayAutoPause, "auto-pause", true, "enable auto-pause detection")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "log engine activity")
}

var replayCmd = &cobra.Command{
	Use:   "replay <file.gpx>",
	Short: "Feed a GPX track through the engine on a simulated clock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := gpx.Parse(args[0])
		if err != nil {
			return err
		}
		samples := data.Samples()
		if len(samples) == 0 {
			return fmt.Errorf("%s has no timestamped track points", args[0])
		}

		level := "warn"
		if replayVerbose {
			level = "debug"
		}
		logger := utils.NewLogger(level, "text")

		store, err := repository.NewSQLRepository(&config.StoreConfig{Driver: "sqlite", DSN: replayStoreDSN}, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		cfg := service.DefaultConfig()
		cfg.AutoPauseEnabled = replayAutoPause

		result, err := replay(ctx, cfg, store, samples, logger, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), result)
		return nil
	},
}

// replayResult итог прогона трека
type replayResult struct {
	Summary  *models.RunSummary
	Accepted int
	Rejected int
}

// replay прогоняет отсчеты через движок, двигая ручные часы к времени
// каждого отсчета
func replay(ctx context.Context, cfg *service.Config, store service.RunStore, samples []models.GeoSample, logger *utils.Logger, out io.Writer) (*replayResult, error) {
	sched := scheduler.NewManual(samples[0].Timestamp)
	tracker, err := service.NewRunTracker(cfg, service.Dependencies{
		Store:     store,
		Scheduler: sched,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	start := samples[0].Timestamp
	offset := func(t time.Time) string { return formatDuration(t.Sub(start).Seconds()) }

	unsubscribe := tracker.Subscribe(service.ListenerFuncs{
		AutoPause: func(s *models.RunSession) {
			fmt.Fprintf(out, "%8s  auto-pause at %.2f km\n", offset(sched.Now()), s.Distance/1000)
		},
		AutoResume: func(s *models.RunSession) {
			fmt.Fprintf(out, "%8s  auto-resume\n", offset(sched.Now()))
		},
		SplitComplete: func(split models.Split) {
			fmt.Fprintf(out, "%8s  km %d in %s (%s /km)\n",
				offset(split.CompletedAt), split.Number, formatDuration(split.Duration), formatPace(split.Pace))
		},
		HalfKilometer: func(mark splits.HalfKilometer) {
			fmt.Fprintf(out, "%8s  halfway through km %d\n", offset(mark.At), mark.SplitNumber)
		},
		Error: func(e models.ErrorEvent) {
			fmt.Fprintf(out, "%8s  %s: %s\n", offset(sched.Now()), e.Kind, e.Message)
		},
	})
	defer unsubscribe()

	if _, err := tracker.Start(ctx); err != nil {
		return nil, err
	}

	result := &replayResult{}
	for _, s := range samples {
		sched.AdvanceTo(s.Timestamp)
		if err := tracker.AddLocationSample(s); err != nil {
			if errors.Is(err, models.ErrInvalidSample) {
				result.Rejected++
				continue
			}
			return nil, err
		}
		result.Accepted++
	}

	summary, err := tracker.Stop(ctx)
	if err != nil {
		return nil, err
	}
	result.Summary = summary
	return result, nil
}

func printSummary(out io.Writer, r *replayResult) {
	s := r.Summary.Session

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nRun\t%s\n", s.ID)
	fmt.Fprintf(w, "Distance\t%.2f km\n", s.Distance/1000)
	fmt.Fprintf(w, "Moving time\t%s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "Average pace\t%s /km\n", formatPace(s.AveragePace))
	fmt.Fprintf(w, "Max speed\t%.1f km/h\n", r.Summary.MaxSpeedKmh)
	fmt.Fprintf(w, "Samples\t%d accepted, %d rejected\n", r.Accepted, r.Rejected)
	if r.Summary.BestSplit != nil {
		fmt.Fprintf(w, "Best split\tkm %d, %s /km\n", r.Summary.BestSplit.Number, formatPace(r.Summary.BestSplit.Pace))
	}
	w.Flush()

	if len(s.Splits) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KM\tTIME\tPACE")
	for _, split := range s.Splits {
		fmt.Fprintf(w, "%d\t%s\t%s\n", split.Number, formatDuration(split.Duration), formatPace(split.Pace))
	}
	w.Flush()
}

// formatDuration секунды в h:mm:ss или m:ss
func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h, m, sec := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// formatPace мин/км в m:ss
func formatPace(pace float64) string {
	if pace <= 0 {
		return "-:--"
	}
	return formatDuration(pace * 60)
}
