package main

import (
	"os"

	"github.com/firefly-engineering/sandboxd/cmd"
	"github.com/firefly-engineering/sandboxd/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
