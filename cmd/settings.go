package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or reset the detection tunables",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective tunables",
	RunE:  runSettingsShow,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the settings override file",
	RunE:  runSettingsReset,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsResetCmd)

	settingsShowCmd.Flags().Bool("json", false, "Output as JSON")
	settingsShowCmd.Flags().Bool("describe", false, "Include ranges and defaults")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	t := a.tunables.Get()

	if mustGetBool(cmd, "json") {
		return outputJSON(t)
	}

	fmt.Printf("# effective settings (%s)\n", a.cfg.SettingsPath)
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if mustGetBool(cmd, "describe") {
		fmt.Println()
		for _, info := range settings.Describe() {
			fmt.Printf("%-32s %g..%g (default %g)  %s\n", info.Key, info.Min, info.Max, info.Default, info.Description)
		}
	}
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	if _, err := a.tunables.Reset(); err != nil {
		return err
	}
	fmt.Printf("Settings reset to defaults (%s removed)\n", a.cfg.SettingsPath)
	return nil
}
