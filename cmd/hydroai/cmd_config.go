package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hydroai/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialise configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default hydroai.yaml to the workspace",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets masked)",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile(workspaceRoot())
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintln(cmd.OutOrStdout(), styles.Warn("%s already exists (use --force to overwrite)", path))
		return nil
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("config written: %s", path))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	c := *currentConfig()
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&c.DEM.OpenTopography.APIKey)
	mask(&c.Report.APIKey)
	mask(&c.Storage.AccessKey)
	mask(&c.Storage.SecretKey)
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
