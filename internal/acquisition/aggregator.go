// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition runs one wake cycle of the monitor: collect a
// sample, show it, encode it, hand it to the transport and go to sleep.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/calibration"
	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/platform"
	"github.com/relabs-tech/crack_monitor/internal/sensors"
)

// PositionSource yields the calibrated position for a cycle that started
// at since.
type PositionSource interface {
	Position(ctx context.Context, since time.Time) (measurement.Position, error)
}

// EnvironmentSource reads external temperature and humidity.
type EnvironmentSource interface {
	Read() (measurement.Environment, error)
}

// TemperatureSource reads the board temperature.
type TemperatureSource interface {
	Temperature() (measurement.Reading, error)
}

// RotaryPosition maps the AS5600 angle through the calibration.
type RotaryPosition struct {
	Calibrator *calibration.Calibrator
}

// Position implements PositionSource.
func (r RotaryPosition) Position(context.Context, time.Time) (measurement.Position, error) {
	return r.Calibrator.Position()
}

// DialPosition waits for one dial indicator frame completed during the
// current cycle and applies the zero offset.
type DialPosition struct {
	Decoder    *sensors.DialDecoder
	Calibrator *calibration.DialCalibrator
	Wait       time.Duration
}

// Position implements PositionSource.
func (d DialPosition) Position(ctx context.Context, since time.Time) (measurement.Position, error) {
	raw, err := d.Decoder.Take(ctx, since, d.Wait)
	if errors.Is(err, measurement.ErrDecodeStall) {
		err = fmt.Errorf("%w, %d clock edges since the last gap", err, d.Decoder.BitCount())
	}
	if err != nil {
		return measurement.Position{Reading: measurement.Invalid()}, err
	}
	return d.Calibrator.Position(raw), nil
}

// Aggregator fills one Sample per cycle. Optional sources left nil are
// recorded as not measured.
type Aggregator struct {
	Variant  measurement.Variant
	Battery  platform.Battery
	Position PositionSource
	Env      EnvironmentSource
	PCB      TemperatureSource
	Log      *zap.SugaredLogger

	now func() time.Time
}

// Collect resets s and fills it. Individual failures mark the affected
// readings and are returned combined; s is always complete.
func (a *Aggregator) Collect(ctx context.Context, s *measurement.Sample) error {
	now := a.now
	if now == nil {
		now = time.Now
	}
	s.Reset(a.Variant, now())

	var errs error

	if a.Battery != nil {
		s.Battery = a.Battery.Percent()
	}

	if a.PCB != nil {
		r, err := a.PCB.Temperature()
		s.PCBTemperature = r
		if err != nil {
			a.Log.Warnf("acquisition: pcb temperature: %v", err)
			errs = multierr.Append(errs, err)
		}
	}

	pos, err := a.Position.Position(ctx, s.Taken)
	s.Position = pos
	if err != nil {
		a.Log.Warnf("acquisition: position: %v", err)
		errs = multierr.Append(errs, fmt.Errorf("position: %w", err))
	}

	if a.Env != nil {
		env, err := a.Env.Read()
		s.External = env
		if err != nil {
			a.Log.Warnf("acquisition: environment: %v", err)
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
