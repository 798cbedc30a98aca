package commands

import (
	"fmt"

	"github.com/marmos91/forgefs/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample forgefs configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/forgefs/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  forgefs init

  # Initialize with custom path
  forgefs init --config /etc/forgefs/config.yaml

  # Force overwrite existing config
  forgefs init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the configuration file to choose a backend and export")
	fmt.Fprintln(out, "  2. Start the server with: forgefs serve")
	fmt.Fprintf(out, "  3. Or specify custom config: forgefs serve --config %s\n", configPath)

	return nil
}
