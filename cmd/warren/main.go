// ABOUTME: Entry point for the warren conversation routing service
// ABOUTME: serve runs the core with its background sweeps; sweep and status are one-shot

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: warren <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the routing core with background sweeps")
		fmt.Println("  sweep     Run one archival sweep and exit")
		fmt.Println("  status    Show operators and queue depth")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("WARREN_CONFIG")
	if configPath == "" {
		configPath = "warren.yaml"
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, configPath)
	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ExitOnError)
		days := fs.Int("days", 0, "retention window in days (0 = config value)")
		fs.Parse(os.Args[2:])
		err = runSweep(ctx, configPath, *days)
	case "status":
		err = runStatus(ctx, configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
