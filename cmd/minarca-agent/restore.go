package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	restoreAt          string
	restoreDestination string
)

var restoreCmd = &cobra.Command{
	Use:   "restore [paths...]",
	Short: "Restore files or folders from the backup",
	Long: `Restore the given paths from the backup of one instance. Without
--at the latest version is restored. Paths nested under another requested
path are restored once through their parent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRestoreCmd,
}

func init() {
	addInstanceFlag(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreAt, "at", "", "restore the version at this RFC3339 date (default: latest)")
	restoreCmd.Flags().StringVar(&restoreDestination, "destination", "", "restore into this directory instead of in place")
}

func runRestoreCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	if len(instances) != 1 {
		return fmt.Errorf("restore requires exactly one instance, use --instance")
	}

	var at *time.Time
	if restoreAt != "" {
		parsed, err := time.Parse(time.RFC3339, restoreAt)
		if err != nil {
			return fmt.Errorf("invalid --at date %q: %w", restoreAt, err)
		}
		at = &parsed
	}

	ctx, cancel := signalContext()
	defer cancel()

	in := instances[0]
	log.Info().Str("instance", in.DisplayName()).Strs("paths", args).Msg("starting restore")
	if err := in.Restore(ctx, at, args, restoreDestination); err != nil {
		return err
	}
	log.Info().Msg("restore completed")
	return nil
}
