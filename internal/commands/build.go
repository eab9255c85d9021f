package commands

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/client"
	"github.com/kilnbuild/kiln/pkg/image"
	"github.com/kilnbuild/kiln/pkg/logging"
)

type BuildFlags struct {
	AppPath            string
	Builder            string
	RunImage           string
	Env                []string
	EnvFiles           []string
	Buildpacks         []string
	AdditionalTags     []string
	Volumes            []string
	Network            string
	PullPolicy         string
	Platform           string
	DefaultProcessType string
	Publish            bool
	ClearCache         bool
	PhaseTimeout       time.Duration
}

// Build returns the `kiln build` command.
func Build(logger logging.Logger, cfg config.Config, kilnClient KilnClient) *cobra.Command {
	var flags BuildFlags

	cmd := &cobra.Command{
		Use:   "build <image-name>",
		Args:  cobra.ExactArgs(1),
		Short: "Generate app image from source code",
		RunE: logError(logger, func(cmd *cobra.Command, args []string) error {
			imageName := args[0]
			if flags.Builder == "" {
				suggestSettingBuilder(logger)
				return MakeSoftError()
			}

			env, err := parseEnv(flags.EnvFiles, flags.Env)
			if err != nil {
				return err
			}

			pullPolicy, err := image.ParsePullPolicy(flags.PullPolicy)
			if err != nil {
				return err
			}

			if err := kilnClient.Build(cmd.Context(), client.BuildOptions{
				Image:              imageName,
				Builder:            flags.Builder,
				RunImage:           flags.RunImage,
				AppPath:            flags.AppPath,
				Env:                env,
				Buildpacks:         flags.Buildpacks,
				AdditionalTags:     flags.AdditionalTags,
				Bindings:           flags.Volumes,
				Network:            flags.Network,
				PullPolicy:         pullPolicy,
				Platform:           flags.Platform,
				Publish:            flags.Publish,
				ClearCache:         flags.ClearCache,
				DefaultProcessType: flags.DefaultProcessType,
				AdditionalMirrors:  getMirrors(cfg),
				PhaseTimeout:       flags.PhaseTimeout,
			}); err != nil {
				return err
			}
			logger.Infof("Successfully built image %s", style.Symbol(imageName))
			return nil
		}),
	}
	buildCommandFlags(cmd, &flags, cfg)
	AddHelpFlag(cmd, "build")
	return cmd
}

func buildCommandFlags(cmd *cobra.Command, buildFlags *BuildFlags, cfg config.Config) {
	cmd.Flags().StringVarP(&buildFlags.AppPath, "path", "p", "", "Path to app directory (defaults to current working directory)")
	cmd.Flags().StringVarP(&buildFlags.Builder, "builder", "B", cfg.DefaultBuilder, "Builder image")
	cmd.Flags().StringVar(&buildFlags.RunImage, "run-image", "", "Run image (defaults to the builder's run image)")
	cmd.Flags().StringArrayVarP(&buildFlags.Env, "env", "e", []string{}, "Build-time environment variable, in the form 'VAR=VALUE' or 'VAR'.\nWhen using latter value-less form, value will be taken from current\n  environment at the time this command is executed.\nThis flag may be specified multiple times and will override\n  individual values defined by --env-file.")
	cmd.Flags().StringArrayVar(&buildFlags.EnvFiles, "env-file", []string{}, "Build-time environment variables file\nOne variable per line, of the form 'VAR=VALUE' or 'VAR'\nWhen using latter value-less form, value will be taken from current\n  environment at the time this command is executed")
	cmd.Flags().StringSliceVarP(&buildFlags.Buildpacks, "buildpack", "b", nil, "Buildpack reference in the form of '<buildpack>@<version>',\n  path to a buildpack directory,\n  path/URL to a buildpack .tar or .tgz file, or\n  a buildpack image reference"+multiValueHelp("buildpack"))
	cmd.Flags().StringSliceVarP(&buildFlags.AdditionalTags, "tag", "t", nil, "Additional tag to apply to the built image"+multiValueHelp("tag"))
	cmd.Flags().StringArrayVar(&buildFlags.Volumes, "volume", nil, "Mount host volume into the detect and build containers, in the form '<host path>:<target path>[:<mode>]'"+multiValueHelp("volume"))
	cmd.Flags().StringVar(&buildFlags.Network, "network", "", "Connect detect and build containers to network")
	cmd.Flags().StringVar(&buildFlags.PullPolicy, "pull-policy", "", "Pull policy to use. Accepted values are always, never, and if-not-present. (default \"always\")")
	cmd.Flags().StringVar(&buildFlags.Platform, "platform", "", "Platform of the builder, run and buildpack images, in the form 'os[/arch[/variant]]' (defaults to the builder's platform)")
	cmd.Flags().BoolVar(&buildFlags.Publish, "publish", false, "Publish to registry")
	cmd.Flags().BoolVar(&buildFlags.ClearCache, "clear-cache", false, "Clear image's associated cache before building")
	cmd.Flags().StringVarP(&buildFlags.DefaultProcessType, "default-process", "D", "", "Set the default process type")
	cmd.Flags().DurationVar(&buildFlags.PhaseTimeout, "phase-timeout", 0, "Limit the run time of each lifecycle phase (defaults to no limit)")
}

func suggestSettingBuilder(logger logging.Logger) {
	logger.Info("Please select a default builder with:")
	logger.Info("")
	logger.Info("\tkiln config default-builder <builder-image>")
}

func parseEnv(envFiles []string, envVars []string) (map[string]string, error) {
	env := map[string]string{}

	for _, envFile := range envFiles {
		envFileVars, err := parseEnvFile(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse env file '%s'", envFile)
		}

		for k, v := range envFileVars {
			env[k] = v
		}
	}
	for _, envVar := range envVars {
		env = addEnvVar(env, envVar)
	}
	return env, nil
}

func parseEnvFile(filename string) (map[string]string, error) {
	out := make(map[string]string)
	f, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	for _, line := range strings.Split(string(f), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = addEnvVar(out, line)
	}
	return out, nil
}

func addEnvVar(env map[string]string, item string) map[string]string {
	arr := strings.SplitN(item, "=", 2)
	if len(arr) > 1 {
		env[arr[0]] = arr[1]
	} else {
		env[arr[0]] = os.Getenv(arr[0])
	}
	return env
}
