package main

import (
	"fmt"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the include/exclude patterns",
	RunE:  runPatternsCmd,
}

var includeCmd = &cobra.Command{
	Use:   "include [globs...]",
	Short: "Add include patterns to the file selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addPatterns(true, args)
	},
}

var excludeCmd = &cobra.Command{
	Use:   "exclude [globs...]",
	Short: "Add exclude patterns to the file selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addPatterns(false, args)
	},
}

var removePatterns bool

func init() {
	addInstanceFlag(patternsCmd, includeCmd, excludeCmd)
	includeCmd.Flags().BoolVar(&removePatterns, "remove", false, "remove the patterns instead of adding them")
	excludeCmd.Flags().BoolVar(&removePatterns, "remove", false, "remove the patterns instead of adding them")
}

func runPatternsCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	for _, in := range instances {
		engine := in.Patterns()
		if err := engine.Load(); err != nil {
			return err
		}
		fmt.Printf("Instance: %s\n", in.DisplayName())
		for _, p := range engine.Patterns() {
			sign := "-"
			if p.Include {
				sign = "+"
			}
			if p.Comment != "" {
				fmt.Printf("  # %s\n", p.Comment)
			}
			fmt.Printf("  %s%s\n", sign, p.Pattern)
		}
	}
	return nil
}

func addPatterns(include bool, globs []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	instances, err := col.Get(instanceSelector)
	if err != nil {
		return err
	}
	for _, in := range instances {
		engine := in.Patterns()
		if err := engine.Load(); err != nil {
			return err
		}
		for _, glob := range globs {
			if removePatterns {
				engine.Remove(glob)
			} else {
				engine.Append(models.Pattern{Include: include, Pattern: glob})
			}
		}
		if err := engine.Save(); err != nil {
			return err
		}
		log.Info().Str("instance", in.DisplayName()).Int("count", len(globs)).Msg("patterns updated")
	}
	return nil
}
