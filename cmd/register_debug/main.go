// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/register_debug/main.go
//
// Browser inspector for the AS5600 and MCP9808 registers.
//
// Run:
//
//	sudo ./register_debug -config crackmon_config.txt -port 8081
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
	port := flag.Int("port", 8081, "HTTP port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Infof("starting register debug tool")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	log.Infof("open http://localhost:%d in your browser", *port)
	if err := app.RunRegisterDebug(ctx, log, *port); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
