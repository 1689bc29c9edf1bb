// Package main is the entrypoint for the nextchapter service.
// It serves the timeline, the PIN gate, and both boards over HTTP and
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/nextchapter/internal/config"
	"github.com/aelexs/nextchapter/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "nextchapter",
		PortFromConfig: func(cfg *config.Config) int { return cfg.HTTP.Port },
		Setup:          setup,
	}, nil)
}
