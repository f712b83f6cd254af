package main

import (
	"errors"
	"os"
	"strings"

	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/collection"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Configuration flags.
	configDir        string
	verbose          bool
	quiet            bool
	jsonOutput       bool
	instanceSelector string
)

var rootCmd = &cobra.Command{
	Use:   "minarca-agent",
	Short: "A backup agent for workstations and laptops",
	Long: `minarca-agent keeps one or more backup instances, each pointing to a
central backup server or to a local removable disk. It handles:
  - scheduled and manual backups through rdiff-backup
  - file selection with include/exclude patterns
  - restore of files and folders at any backed-up date
  - registration with the operating system scheduler

Backups run as one-shot commands, driven by the OS scheduler.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       rdiff.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default: OS user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(configureCmd)
}

// addInstanceFlag registers the --instance selector on commands operating on
// specific instances.
func addInstanceFlag(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().StringVar(&instanceSelector, "instance", "", "comma-separated instance ids (default: all instances)")
	}
}

func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadCollection builds the configuration and the instance collection.
func loadCollection() (*config.Config, *collection.Collection, error) {
	if configDir != "" {
		os.Setenv("MINARCA_CONFIG_DIR", configDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, collection.New(log.Logger, cfg), nil
}

// Exit codes beyond the usual 0/1: scheduled run not due, an operation
// refused because another one is running, and a selector matching nothing.
const (
	exitOK          = 0
	exitError       = 1
	exitNotDue      = 2
	exitRunning     = 3
	exitNotFound    = 4
	exitInterrupted = 5
)

// Execute runs the root command and maps the error taxonomy to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	log.Error().Err(err).Msg("command failed")
	var notFound *models.InstanceNotFoundError
	switch {
	case errors.Is(err, models.ErrNotSchedule):
		return exitNotDue
	case errors.Is(err, models.ErrRunning), errors.Is(err, models.ErrNotRunning):
		return exitRunning
	case errors.As(err, &notFound):
		return exitNotFound
	}
	return exitError
}
