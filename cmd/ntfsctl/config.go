package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

func init() {
	initCommand.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	root.AddCommand(initCommand)
	root.AddCommand(schemaCommand)
}

var initCommand = &cobra.Command{
	Use:   "init",
	Short: `Write a default config file.`,
	Long: `
Writes a configuration file with every default filled in. Without --config
the file goes to $XDG_CONFIG_HOME/ntfs/config.yaml.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
		return nil
	},
}

var schemaCommand = &cobra.Command{
	Use:   "schema [output]",
	Short: `Write the JSON schema of the config file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.GenerateSchema()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}

		if err := os.WriteFile(args[0], data, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", args[0])
		return nil
	},
}
