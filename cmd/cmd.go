// Package cmd assembles the kiln CLI.
package cmd

import (
	"github.com/heroku/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/commands"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/pkg/client"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// ConfigurableLogger defines behavior required by the kiln command.
type ConfigurableLogger interface {
	logging.Logger
	WantTime(f bool)
	WantQuiet(f bool)
	WantVerbose(f bool)
}

// NewKilnCommand generates the kiln root command.
func NewKilnCommand(logger ConfigurableLogger) (*cobra.Command, error) {
	cobra.EnableCommandSorting = false

	cfg, cfgPath, err := initConfig()
	if err != nil {
		return nil, err
	}

	kilnClient, err := initClient(logger)
	if err != nil {
		return nil, err
	}

	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "CLI for building app images from source using buildpacks",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if fs := cmd.Flags(); fs != nil {
				if flag, err := fs.GetBool("no-color"); err == nil {
					color.Disable(flag)
				}
				if flag, err := fs.GetBool("quiet"); err == nil {
					logger.WantQuiet(flag)
				}
				if flag, err := fs.GetBool("verbose"); err == nil {
					logger.WantVerbose(flag)
				}
				if flag, err := fs.GetBool("timestamps"); err == nil {
					logger.WantTime(flag)
				}
			}
		},
	}

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	rootCmd.PersistentFlags().Bool("timestamps", false, "Enable timestamps in output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Show less output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show more output")
	rootCmd.Flags().Bool("version", false, "Show current 'kiln' version")

	commands.AddHelpFlag(rootCmd, "kiln")

	rootCmd.AddCommand(commands.Build(logger, cfg, kilnClient))
	rootCmd.AddCommand(commands.Config(logger, cfg, cfgPath))
	rootCmd.AddCommand(commands.Version(logger, client.Version))
	rootCmd.AddCommand(commands.Report(logger, client.Version))

	rootCmd.Version = client.Version
	rootCmd.SetVersionTemplate(`{{.Version}}{{"\n"}}`)
	rootCmd.SetOut(logging.GetWriterForLevel(logger, logging.InfoLevel))

	return rootCmd, nil
}

func initConfig() (config.Config, string, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return config.Config{}, "", errors.Wrap(err, "getting config path")
	}

	cfg, err := config.Read(path)
	if err != nil {
		return config.Config{}, "", errors.Wrap(err, "reading config")
	}

	return cfg, path, nil
}

func initClient(logger logging.Logger) (*client.Client, error) {
	return client.NewClient(client.WithLogger(logger))
}
