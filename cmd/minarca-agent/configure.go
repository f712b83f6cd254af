package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configureURL      string
	configureUsername string
	configurePassword string
	configureName     string
	configurePath     string
	configureForce    bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Create a new backup instance",
}

var configureRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Back up to a central backup server",
	Long: `Create an instance backed by a central backup server. The server is
probed with the given credentials, an SSH identity is generated and
registered, and a first backup is scheduled. The password may also be
given through MINARCA_PASSWORD, or interactively.`,
	RunE: runConfigureRemoteCmd,
}

var configureLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Back up to a local or removable disk",
	Long: `Create an instance backed by a directory on a local or removable
disk. An identity marker is written next to the directory so the disk is
recognized even when it is mounted elsewhere later.`,
	RunE: runConfigureLocalCmd,
}

func init() {
	configureCmd.AddCommand(configureRemoteCmd)
	configureCmd.AddCommand(configureLocalCmd)

	configureRemoteCmd.Flags().StringVar(&configureURL, "url", "", "backup server URL")
	configureRemoteCmd.Flags().StringVar(&configureUsername, "username", "", "backup server username")
	configureRemoteCmd.Flags().StringVar(&configurePassword, "password", "", "backup server password (prefer MINARCA_PASSWORD)")
	configureRemoteCmd.Flags().StringVar(&configureName, "name", "", "repository name")
	configureRemoteCmd.Flags().BoolVar(&configureForce, "force", false, "reuse an existing repository of the same name")
	_ = configureRemoteCmd.MarkFlagRequired("url")
	_ = configureRemoteCmd.MarkFlagRequired("username")
	_ = configureRemoteCmd.MarkFlagRequired("name")

	configureLocalCmd.Flags().StringVar(&configurePath, "path", "", "destination directory on the disk")
	configureLocalCmd.Flags().StringVar(&configureName, "name", "", "repository name")
	configureLocalCmd.Flags().BoolVar(&configureForce, "force", false, "reuse a non-empty destination or existing repository")
	_ = configureLocalCmd.MarkFlagRequired("path")
	_ = configureLocalCmd.MarkFlagRequired("name")
}

func runConfigureRemoteCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	password := configurePassword
	if password == "" {
		password = os.Getenv("MINARCA_PASSWORD")
	}
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s at %s: ", configureUsername, configureURL)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	}

	in, err := col.ConfigureRemote(cmd.Context(), configureURL, configureUsername, password, configureName, configureForce)
	if err != nil {
		return err
	}
	log.Info().Str("instance", in.DisplayName()).Msg("remote instance configured")
	fmt.Printf("Instance %s is configured. The first backup starts within the hour,\n", in.DisplayName())
	fmt.Println("or run 'minarca-agent backup --force' to start it now.")
	return nil
}

func runConfigureLocalCmd(cmd *cobra.Command, args []string) error {
	_, col, err := loadCollection()
	if err != nil {
		return err
	}
	in, err := col.ConfigureLocal(configurePath, configureName, configureForce)
	if err != nil {
		return err
	}
	log.Info().Str("instance", in.DisplayName()).Msg("local instance configured")
	fmt.Printf("Instance %s is configured. The first backup starts within the hour,\n", in.DisplayName())
	fmt.Println("or run 'minarca-agent backup --force' to start it now.")
	return nil
}
