// portalctl — терминальный клиент транспортного портала DIU.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Pullock4981/diu-transport-client/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RootCommand().ExecuteContext(ctx); err != nil {
		cli.PrintError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
