// Command bffctl exercises the backend-for-frontend upstream clients from a terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := newApp(defaultDeps(), os.Stdout, os.Stderr).execute(ctx, os.Args[1:])

	stop()
	os.Exit(code)
}
