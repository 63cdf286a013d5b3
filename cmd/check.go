package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration, record store and container runtime",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config:   %s\n", resolveConfigPath())

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	available := runtime.Available(nil)
	names := make([]string, len(available))
	for i, rt := range available {
		names[i] = string(rt)
	}
	if len(names) == 0 {
		names = []string{"none"}
	}
	fmt.Fprintf(out, "Engines:  %s\n", strings.Join(names, ", "))

	failed := false
	if err := a.Store.Ping(ctx); err != nil {
		fmt.Fprintf(out, "Store:    ✗ %s (%v)\n", a.Config.Store.Driver, err)
		failed = true
	} else {
		fmt.Fprintf(out, "Store:    ✓ %s\n", a.Config.Store.Driver)
	}

	if err := runtime.CheckAvailability(ctx, a.Runtime); err != nil {
		fmt.Fprintf(out, "Runtime:  ✗ %v\n", err)
		failed = true
	} else {
		fmt.Fprintf(out, "Runtime:  ✓ %s\n", a.Runtime.Name())
	}

	counts, err := a.Store.CountByStatus(ctx)
	if err == nil {
		var parts []string
		for _, s := range liveStatuses() {
			if n := counts[s]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, s))
			}
		}
		if len(parts) == 0 {
			parts = []string{"none"}
		}
		fmt.Fprintf(out, "Records:  %s\n", strings.Join(parts, ", "))
	}

	if failed {
		return errors.RuntimeUnreachable(fmt.Errorf("health check failed"))
	}
	return nil
}
