package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// Config returns the `kiln config` command group.
func Config(logger logging.Logger, cfg config.Config, cfgPath string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Interact with your local kiln config file",
		RunE:  nil,
	}

	cmd.AddCommand(ConfigDefaultBuilder(logger, cfg, cfgPath))
	AddHelpFlag(cmd, "config")
	return cmd
}

// ConfigDefaultBuilder lists, sets and unsets the default builder used by
// `kiln build`.
func ConfigDefaultBuilder(logger logging.Logger, cfg config.Config, cfgPath string) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "default-builder <builder-name>",
		Args:  cobra.MaximumNArgs(1),
		Short: "List, set and unset the default builder used by other commands",
		Long: "You can use this command to list, set, and unset the default builder used by other commands:\n" +
			"* To list your default builder, run `kiln config default-builder`.\n" +
			"* To set your default builder, run `kiln config default-builder <builder-name>`.\n" +
			"* To unset your default builder, run `kiln config default-builder --unset`.",
		Example: "kiln config default-builder cnbs/sample-builder:bionic",
		RunE: logError(logger, func(cmd *cobra.Command, args []string) error {
			switch {
			case unset:
				if len(args) > 0 {
					return errors.New("builder name and --unset cannot be specified simultaneously")
				}
				if cfg.DefaultBuilder == "" {
					logger.Info("No default builder was set")
					return nil
				}
				oldBuilder := cfg.DefaultBuilder
				cfg.DefaultBuilder = ""
				if err := config.Write(cfg, cfgPath); err != nil {
					return errors.Wrapf(err, "writing config to %s", cfgPath)
				}
				logger.Infof("Successfully unset default builder %s", style.Symbol(oldBuilder))

			case len(args) == 0:
				if cfg.DefaultBuilder == "" {
					logger.Info("No default builder is set")
					logger.Info("")
					logger.Info("Set one with:")
					logger.Info("")
					logger.Info("\tkiln config default-builder <builder-image>")
					return nil
				}
				logger.Infof("The current default builder is %s", style.Symbol(cfg.DefaultBuilder))

			default:
				imageName := args[0]
				cfg.DefaultBuilder = imageName
				if err := config.Write(cfg, cfgPath); err != nil {
					return errors.Wrapf(err, "writing config to %s", cfgPath)
				}
				logger.Infof("Builder %s is now the default builder", style.Symbol(imageName))
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&unset, "unset", false, "Unset the current default builder")
	AddHelpFlag(cmd, "default-builder")
	return cmd
}
