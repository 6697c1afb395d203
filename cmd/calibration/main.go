// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided calibration for the rotary (draw-wire) crack monitor.
// Captures three positions:
//  1. start of travel
//  2. end of travel
//  3. user zero
//
// Each step is triggered by ENTER (default), the SW2 button, or a browser
// over /ws/calibration. With -zero only the zero point is reset to the
// current position.
//
// Run:
//
//	sudo ./calibration -config crackmon_config.txt [-trigger console|button|web] [-zero]
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
	trigger := flag.String("trigger", "console", "step trigger: console, button or web")
	zero := flag.Bool("zero", false, "only reset the zero point")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	switch *trigger {
	case "console", "button", "web":
	default:
		log.Fatalf("unknown trigger %q", *trigger)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	req := app.CalibrationRequest{ZeroOnly: *zero, Trigger: *trigger}
	if err := app.RunCalibration(ctx, log, req); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}
