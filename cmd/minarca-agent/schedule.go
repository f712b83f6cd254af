package main

import (
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scheduleHours  int
	scheduleRemove bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Set the backup interval and register with the OS scheduler",
	Long: `Set how often the selected instances back up, and make sure the OS
scheduler (cron, launchd or the task scheduler) invokes 'minarca-agent
start' periodically. With --remove the OS scheduler entry is deleted.`,
	RunE: runScheduleCmd,
}

func init() {
	addInstanceFlag(scheduleCmd)
	scheduleCmd.Flags().IntVar(&scheduleHours, "interval", 24, "backup interval in hours")
	scheduleCmd.Flags().BoolVar(&scheduleRemove, "remove", false, "remove the OS scheduler entry")
}

func runScheduleCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	sched := scheduler.New(log.Logger)
	ctx := cmd.Context()

	if scheduleRemove {
		if err := sched.Delete(ctx); err != nil {
			return err
		}
		log.Info().Msg("OS scheduler entry removed")
		return nil
	}

	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	for _, in := range instances {
		err := in.Settings().Update(func(s *models.Settings) error {
			s.Schedule = scheduleHours
			return nil
		})
		if err != nil {
			return err
		}
		log.Info().Str("instance", in.DisplayName()).Int("hours", scheduleHours).Msg("schedule updated")
	}

	exists, err := sched.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		// The OS entry fires often, the per-instance schedule decides what
		// is actually due.
		if err := sched.Create(ctx, 15); err != nil {
			return err
		}
		log.Info().Msg("OS scheduler entry created")
	}
	return nil
}
