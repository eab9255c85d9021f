// Package commands holds the cobra commands behind the kiln CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/pkg/client"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// KilnClient is the subset of the kiln client the commands drive.
type KilnClient interface {
	Build(ctx context.Context, opts client.BuildOptions) error
}

func AddHelpFlag(cmd *cobra.Command, commandName string) {
	cmd.Flags().BoolP("help", "h", false, fmt.Sprintf("Help for '%s'", commandName))
}

// CreateCancellableContext returns a context cancelled on SIGINT/SIGTERM, so
// an interrupted build still runs its cleanup.
func CreateCancellableContext() context.Context {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-signals
		cancel()
	}()

	return ctx
}

func logError(logger logging.Logger, f func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		err := f(cmd, args)
		if err != nil {
			if _, isSoft := err.(SoftError); !isSoft {
				logger.Error(err.Error())
			}
			return err
		}
		return nil
	}
}

func multiValueHelp(name string) string {
	return fmt.Sprintf("\nRepeat for each %s in order,\n  or supply once by comma-separated list", name)
}

func getMirrors(cfg config.Config) map[string][]string {
	mirrors := map[string][]string{}
	for _, ri := range cfg.RunImages {
		mirrors[ri.Image] = ri.Mirrors
	}
	return mirrors
}
