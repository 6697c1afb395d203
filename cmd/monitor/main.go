// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/monitor/main.go
//
// Crack monitor device loop: boot, pick the mode from the buttons and the
// stored calibration, measure, uplink, sleep, repeat.
//
// Run:
//
//	sudo ./monitor -config crackmon_config.txt
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/crack_monitor/internal/app"
	"github.com/relabs-tech/crack_monitor/internal/config"
	"github.com/relabs-tech/crack_monitor/internal/logging"
)

func main() {
	configPath := flag.String("config", "crackmon_config.txt", "path to the KEY=VALUE config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Infof("starting crack monitor")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	if err := app.RunMonitor(ctx, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
