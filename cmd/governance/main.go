// Package main wires the governance gRPC service process lifecycle.
//
// It reads config from flags/env and runs the governance server until
// shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	governancecmd "github.com/brightward/brightward/internal/cmd/governance"
)

func main() {
	cfg, err := governancecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[GOVERNANCE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := governancecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
