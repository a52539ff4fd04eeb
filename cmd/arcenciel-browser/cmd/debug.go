package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/config"
	"go-arcenciel-browser/internal/models"
)

var configInitForce bool

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config file")
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration.`,
}

// --- debug show-config ---

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration object as JSON",
	Long: `Loads configuration via .env, config file, environment and flags
(respecting precedence) and prints the final configuration as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonBytes, err := json.MarshalIndent(redacted(globalConfig), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or print the TOML configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}
		data, err := encodeTOML(config.Defaults())
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfgFile, data, 0600); err != nil {
			return fmt.Errorf("writing %s: %w", cfgFile, err)
		}
		log.Infof("Wrote default configuration to %s", cfgFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := encodeTOML(redacted(globalConfig))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func encodeTOML(cfg models.Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config as TOML: %w", err)
	}
	return buf.Bytes(), nil
}

// redacted hides the API key in printed configs.
func redacted(cfg models.Config) models.Config {
	if cfg.APIKey != "" {
		cfg.APIKey = "********"
	}
	return cfg
}
