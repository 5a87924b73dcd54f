package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"banksync/cmd/banksync/commands"
	"banksync/lib/osutil"
	"banksync/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "banksync")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	code := commands.ExecuteContext(ctx)
	tel.Shutdown(context.Background())
	os.Exit(code)
}
