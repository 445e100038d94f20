package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"ledgercast/internal/config"
	"ledgercast/internal/ledger"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration problems to 2 so wrappers can tell them apart
// from runtime failures.
func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if ledger.IsConfigurationError(err) {
		return 2
	}
	return 1
}
