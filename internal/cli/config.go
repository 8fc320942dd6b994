// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/formerhub/pkg/formers"
)

// DefaultConfig returns the default configuration. Keys are flag names.
func DefaultConfig() map[string]any {
	return map[string]any{
		"cache-dir":    formers.DefaultSettings().CacheDir,
		"project-dir":  "",
		"endpoint":     "",
		"token":        "",
		"lock-timeout": "1m0s",
		"log-level":    "warn",
		"log-format":   "text",
	}
}

// configPath returns the existing config file, or the JSON default location.
func configPath() (string, error) {
	if p := defaultConfigPath(); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	return filepath.Join(home, ".config", "formerhub.json"), nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/formerhub.json (or .yaml)

The configuration file sets default values for the global flags.
CLI flags and the HF_ENDPOINT / FORMERHUB_TOKEN variables override it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return errors.Wrap(err, "could not find home directory")
			}

			configDir := filepath.Join(home, ".config")
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			path := filepath.Join(configDir, "formerhub"+ext)

			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("config file already exists: %s\nUse --force to overwrite", path)
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return errors.Wrap(err, "could not create config directory")
			}

			cfg := DefaultConfig()
			var data []byte
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return errors.Wrap(err, "could not write config file")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Created config file: %s\n", color.GreenString("✓"), path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Point endpoint at your checkpoint mirror")
			fmt.Fprintln(out, "  - Move the cache with cache-dir")
			fmt.Fprintln(out, "  - Set a token for authenticated fetches")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, "No config file found.")
				fmt.Fprintf(out, "Run 'formerhub config init' to create one at:\n  %s\n", path)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Config file: %s\n\n", path)
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
