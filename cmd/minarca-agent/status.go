package main

import (
	"fmt"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	pauseHours  int
	pauseClear  bool
	forgetForce bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of each backup instance",
	RunE:  runStatusCmd,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend scheduled backups for a while",
	RunE:  runPauseCmd,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the backup repository",
	RunE:  runVerifyCmd,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove an instance from this computer",
	Long: `Remove the local configuration of an instance: its settings, status,
patterns, keys and logs. Backed-up data on the destination is not touched.`,
	RunE: runForgetCmd,
}

func init() {
	addInstanceFlag(statusCmd, pauseCmd, verifyCmd, forgetCmd)
	pauseCmd.Flags().IntVar(&pauseHours, "delay", 24, "pause duration in hours")
	pauseCmd.Flags().BoolVar(&pauseClear, "clear", false, "clear an active pause")
	forgetCmd.Flags().BoolVar(&forgetForce, "force", false, "do not ask for confirmation")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Println("No backup instance configured. Use 'minarca-agent configure' to create one.")
		return nil
	}
	for _, in := range instances {
		settings, err := in.Settings().Load()
		if err != nil {
			return err
		}
		status, err := in.Status().Load()
		if err != nil {
			return err
		}
		result, err := in.CurrentStatus()
		if err != nil {
			return err
		}

		fmt.Printf("Instance: %s\n", in.DisplayName())
		switch {
		case settings.IsRemote():
			fmt.Printf("  Destination: %s (%s)\n", settings.RemoteURL, settings.RepositoryName)
		case settings.IsLocal():
			caption := settings.LocalCaption
			if caption == "" {
				caption = settings.LocalMountPoint
			}
			fmt.Printf("  Destination: %s (%s)\n", caption, settings.RepositoryName)
		default:
			fmt.Printf("  Destination: not configured\n")
		}
		fmt.Printf("  State: %s\n", result)
		if status.Details != "" && result == models.ResultFailure {
			fmt.Printf("  Detail: %s\n", status.Details)
		}
		fmt.Printf("  Last backup: %s\n", formatDate(status.LastSuccess))
		if settings.Paused(time.Now()) {
			fmt.Printf("  Paused until: %s\n", formatDate(settings.PauseUntil))
		} else if settings.Schedule > 0 {
			fmt.Printf("  Schedule: every %d hour(s)\n", settings.Schedule)
		}
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runPauseCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	hours := pauseHours
	if pauseClear {
		hours = 0
	}
	for _, in := range instances {
		if err := in.Pause(hours); err != nil {
			return err
		}
		if hours > 0 {
			log.Info().Str("instance", in.DisplayName()).Int("hours", hours).Msg("backups paused")
		} else {
			log.Info().Str("instance", in.DisplayName()).Msg("pause cleared")
		}
	}
	return nil
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	for _, in := range instances {
		log.Info().Str("instance", in.DisplayName()).Msg("verifying repository")
		if err := in.Verify(ctx); err != nil {
			return err
		}
	}
	log.Info().Msg("verification completed")
	return nil
}

func runForgetCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	for _, in := range instances {
		if !forgetForce {
			fmt.Printf("Remove instance %s from this computer? Backed-up data is kept. [y/N] ", in.DisplayName())
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				continue
			}
		}
		if err := in.Forget(); err != nil {
			return err
		}
	}
	return nil
}
