package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/marrow-labs/quotawatch/internal/cli"
	"github.com/marrow-labs/quotawatch/internal/config"
	"github.com/marrow-labs/quotawatch/internal/gate"
	"github.com/marrow-labs/quotawatch/internal/httpclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer httpclient.Close()

	gate.SetDefault(gate.NewRegistry(config.FileGateStore{}))

	if err := cli.ExecuteContext(ctx); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
