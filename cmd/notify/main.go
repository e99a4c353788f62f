// Package main publishes one notification mutation to the delivery feed.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	notifycmd "github.com/notifeed/notifeed/internal/cmd/notify"
	"github.com/notifeed/notifeed/internal/platform/config"
)

func main() {
	cfg, err := notifycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[NOTIFY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := notifycmd.Run(ctx, cfg); err != nil {
		config.Exitf("publish failed: %v", err)
	}
}
