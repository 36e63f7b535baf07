// Package main is the packfs command: it inspects, validates, hashes, edits
// and extracts ZIP content packs through the packfs virtual storage tree.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fclairamb/packfs/internal/cmd"
)

func main() {
	os.Exit(run(os.Args))
}

// run executes the command line in args and returns the process exit code.
// An interrupt cancels the pack operation in progress.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewApp().Run(ctx, args); err != nil {
		if ctx.Err() != nil {
			slog.Warn("packfs interrupted", "error", err)
		} else {
			slog.Error("packfs failed", "error", err)
		}
		return 1
	}

	return 0
}
