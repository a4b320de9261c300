package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orthorect/internal/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show, validate or initialize orthorect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("ORTHORECT_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/orthorect/config.json"
			}
			cmd.Printf("Config file: %s\n\n", cfgPath)
			out, err := json.MarshalIndent(root.cfg, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}

	var initPath string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := initPath
			if path == "" {
				path = os.Getenv("ORTHORECT_CONFIG")
			}
			if path == "" {
				return fmt.Errorf("no config path: pass --path or set ORTHORECT_CONFIG")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "", "where to write the config file")

	cmd.AddCommand(showCmd, validateCmd, initCmd)
	return cmd
}
