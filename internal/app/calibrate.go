// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/calibration"
	"github.com/relabs-tech/crack_monitor/internal/config"
	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/platform"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
	"github.com/relabs-tech/crack_monitor/internal/sensors"
)

// SignalContext returns a context cancelled on Ctrl+C or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// CalibrationRequest selects what the calibration tool does.
type CalibrationRequest struct {
	ZeroOnly bool   // only reset the zero point
	Trigger  string // "console", "button" or "web"
}

// RunCalibration runs the rotary calibration or zero reset outside the
// normal boot flow.
func RunCalibration(ctx context.Context, log *zap.SugaredLogger, req CalibrationRequest) error {
	cfg := config.Get()
	if cfg.Variant != measurement.Rotary {
		return fmt.Errorf("calibration: the %s variant only supports the zero reset of the monitor boot", cfg.Variant)
	}

	bus, err := sensors.OpenBus(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	store := prefs.Open(cfg.CalibrationFile)
	angle := sensors.NewAS5600(bus, cfg.AS5600Addr)
	opts := calibration.Options{
		Namespace: cfg.CalibrationNamespace,
		Mapper:    calibration.Mapper{TravelLength: cfg.TravelLengthUM, GapAngle: cfg.GapAngle},
	}

	if req.Trigger == "web" && !req.ZeroOnly {
		cs := &CalibrationServer{Store: store, Angle: angle, Options: opts, Log: log}
		return serveCalibration(ctx, cfg.WebServerPort, cs, log)
	}

	opts.Announce = func(format string, args ...any) {
		fmt.Printf(format+"\n", args...)
	}
	cal := calibration.NewCalibrator(store, angle, log, opts)
	if _, err := cal.Load(); err != nil {
		log.Warnf("calibration: %v", err)
	}
	log.Infof("calibration: current record %+v", cal.Record())

	if req.ZeroOnly {
		_, err := cal.ZeroReset()
		return err
	}

	var trig calibration.Trigger
	switch req.Trigger {
	case "button":
		btn, err := platform.OpenButton(cfg.ButtonZeroPin)
		if err != nil {
			return err
		}
		trig = btn
	default:
		fmt.Println("Press ENTER to capture each position.")
		trig = NewConsoleTrigger(os.Stdin)
	}

	if err := cal.Run(ctx, trig); err != nil {
		return err
	}
	log.Infof("calibration: stored %+v", cal.Record())
	return nil
}

func serveCalibration(ctx context.Context, port int, cs *CalibrationServer, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/calibration", cs.HandleCalibrationWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("calibration: websocket on %s/ws/calibration", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
