package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var forceRun bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a backup in the foreground",
	Long: `Run a backup for the selected instances in the foreground. Without
--force the backup only runs when the schedule says it is due and the
instance is not paused.`,
	RunE: runBackupCmd,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start due backups in the background",
	Long: `Start a detached backup process for each selected instance whose
schedule says a backup is due. This is the command the OS scheduler
invokes periodically.`,
	RunE: runStartCmd,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running backup or restore",
	RunE:  runStopCmd,
}

func init() {
	addInstanceFlag(backupCmd, startCmd, stopCmd)
	backupCmd.Flags().BoolVar(&forceRun, "force", false, "run even when not due, clearing any pause")
	startCmd.Flags().BoolVar(&forceRun, "force", false, "start even when not due")
}

// signalContext cancels on SIGINT/SIGTERM so a stopped agent still writes
// its terminal status.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()
	return ctx, cancel
}

func runBackupCmd(cmd *cobra.Command, args []string) error {
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
		log.Info().Str("instance", in.DisplayName()).Msg("starting backup")
		if err := in.Backup(ctx, forceRun); err != nil {
			return err
		}
		log.Info().Str("instance", in.DisplayName()).Msg("backup completed")
	}
	return nil
}

func runStartCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	return col.StartAll(instanceSelector, forceRun)
}

func runStopCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	for _, in := range instances {
		if err := in.Stop(); err != nil {
			return err
		}
		log.Info().Str("instance", in.DisplayName()).Msg("stopped")
	}
	return nil
}
