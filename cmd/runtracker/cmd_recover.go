package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flybeeper/runtracker/internal/scheduler"
	"github.com/flybeeper/runtracker/internal/service"
)

var recoverForce bool

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().BoolVar(&recoverForce, "force", false, "mark the unfinished run interrupted regardless of its heartbeat age")
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Close a run left unfinished by a crashed process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		trackerCfg := service.ConfigFromApp(cfg)
		if recoverForce {
			trackerCfg.StaleThreshold = 0
		}

		sched := scheduler.NewCron()
		defer sched.Stop()

		tracker, err := service.NewRunTracker(trackerCfg, service.Dependencies{
			Store:     store,
			Scheduler: sched,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer tracker.Close(ctx)

		session, err := tracker.RecoverInterrupted(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if session == nil {
			fmt.Fprintln(out, "No unfinished run found.")
			return nil
		}
		if session.Status.IsLive() {
			fmt.Fprintf(out, "Run %s is still live (heartbeat %s), use --force to close it.\n",
				session.ID, session.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		}
		fmt.Fprintf(out, "Run %s marked %s: %.2f km in %s.\n",
			session.ID, session.Status, session.Distance/1000, formatDuration(session.Duration))
		return nil
	},
}
