package main

import (
	"os"

	"github.com/kilnbuild/kiln/cmd"
	"github.com/kilnbuild/kiln/internal/commands"
	"github.com/kilnbuild/kiln/pkg/logging"
)

func main() {
	logger := logging.NewLogWithWriters(os.Stdout, os.Stderr)

	rootCmd, err := cmd.NewKilnCommand(logger)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	ctx := commands.CreateCancellableContext()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
