// Command sensor publishes depth-camera events under a sensor name.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/sensornode/internal/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runtime.Main(ctx, os.Args[1:], runtime.Dependencies{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
