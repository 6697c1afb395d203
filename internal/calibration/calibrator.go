// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// State of the rotary calibration.
type State int

const (
	Uncalibrated State = iota
	Calibrating
	Calibrated
)

func (s State) String() string {
	switch s {
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	default:
		return "uncalibrated"
	}
}

// AngleSource supplies raw encoder angles.
type AngleSource interface {
	RawAngle() (uint16, error)
}

// Trigger gates each calibration step on an operator action.
type Trigger interface {
	WaitRelease(ctx context.Context) error
	WaitPress(ctx context.Context) error
}

// Announcer shows operator instructions (display, console, websocket).
type Announcer func(format string, args ...any)

// Options tune a Calibrator. Zero values select the defaults.
type Options struct {
	Namespace string
	Mapper    Mapper
	StepPause time.Duration // after each captured step
	DonePause time.Duration // before "Calibration done!"
	Announce  Announcer
}

// Calibrator owns the in-memory copy of the rotary calibration record and
// runs the three-step procedure and the zero reset.
type Calibrator struct {
	store *prefs.Store
	angle AngleSource
	log   *zap.SugaredLogger
	opts  Options
	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	rec   Record
	state State
}

// NewCalibrator returns a calibrator holding the default record until Load.
func NewCalibrator(store *prefs.Store, angle AngleSource, log *zap.SugaredLogger, opts Options) *Calibrator {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Mapper.TravelLength == 0 {
		opts.Mapper = DefaultMapper()
	}
	if opts.StepPause == 0 {
		opts.StepPause = 500 * time.Millisecond
	}
	if opts.DonePause == 0 {
		opts.DonePause = 5 * time.Second
	}
	if opts.Announce == nil {
		opts.Announce = log.Infof
	}
	return &Calibrator{
		store: store,
		angle: angle,
		log:   log,
		opts:  opts,
		sleep: sleepCtx,
		rec:   DefaultRecord(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load reads the stored record. needsCalibration is true only when the
// store opened fine and holds no calibration. When the store cannot be
// opened the defaults stay in place and a *measurement.PersistenceError is
// returned.
func (c *Calibrator) Load() (needsCalibration bool, err error) {
	rec, found, err := LoadRecord(c.store, c.opts.Namespace)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
	if err != nil {
		c.state = Uncalibrated
		c.log.Warnf("calibration: %v, using defaults", err)
		return false, err
	}
	if !found {
		c.state = Uncalibrated
		c.log.Infof("calibration: no stored calibration data")
		return true, nil
	}
	c.state = Calibrated
	c.log.Infof("calibration: start_angle=%d end_angle=%d zero_pos=%d", rec.StartAngle, rec.EndAngle, rec.ZeroPos)
	return false, nil
}

// Record returns the in-memory record.
func (c *Calibrator) Record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// State returns the calibration state.
func (c *Calibrator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mapper returns the geometry in use.
func (c *Calibrator) Mapper() Mapper { return c.opts.Mapper }

// Position reads the encoder and maps it with the current record.
func (c *Calibrator) Position() (measurement.Position, error) {
	raw, err := c.angle.RawAngle()
	if err != nil {
		return measurement.Position{Reading: measurement.Invalid()}, err
	}
	return c.opts.Mapper.Map(raw, c.Record())
}

// Run performs the interactive calibration: capture the start angle, the
// end angle, then the zero position. Values are staged in one namespace
// and committed together at the end, so a cancelled or failed run leaves
// the stored record and the in-memory record untouched.
func (c *Calibrator) Run(ctx context.Context, trig Trigger) error {
	c.mu.Lock()
	if c.state == Calibrating {
		c.mu.Unlock()
		return errors.New("calibration: already running")
	}
	prev := c.state
	c.state = Calibrating
	c.mu.Unlock()

	rec, err := c.run(ctx, trig)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = prev
		return err
	}
	c.rec = rec
	c.state = Calibrated
	return nil
}

func (c *Calibrator) run(ctx context.Context, trig Trigger) (Record, error) {
	say := c.opts.Announce
	say("Calibration started!")

	ns, err := c.store.Begin(c.opts.Namespace, false)
	if err != nil {
		say("Failed to open preferences in write mode")
		return Record{}, &measurement.PersistenceError{Op: "open " + c.opts.Namespace, Err: err}
	}
	var rec Record

	raw, err := c.step(ctx, trig, "Press button to set start pos.")
	if err != nil {
		return Record{}, err
	}
	rec.StartAngle = int32(raw)
	say("New start angle: %d", rec.StartAngle)
	if err := c.sleep(ctx, c.opts.StepPause); err != nil {
		return Record{}, err
	}

	raw, err = c.step(ctx, trig, "Press button to set end pos.")
	if err != nil {
		return Record{}, err
	}
	rec.EndAngle = Span(rec.StartAngle, raw)
	if err := c.opts.Mapper.CheckSpan(rec.EndAngle); err != nil {
		if errors.Is(err, ErrZeroSpan) {
			say("End pos equals start pos, calibration aborted")
		} else {
			say("End pos too close behind start pos, calibration aborted")
		}
		return Record{}, err
	}
	say("New end angle: %d", rec.EndAngle)
	if err := c.sleep(ctx, c.opts.StepPause); err != nil {
		return Record{}, err
	}

	raw, err = c.step(ctx, trig, "Press button to set zero pos.")
	if err != nil {
		return Record{}, err
	}
	pos, err := c.opts.Mapper.Map(raw, Record{StartAngle: rec.StartAngle, EndAngle: rec.EndAngle})
	if err != nil {
		return Record{}, err
	}
	rec.ZeroPos = pos.Micrometers
	if err := putRecord(ns, rec); err != nil {
		return Record{}, &measurement.PersistenceError{Op: "write " + c.opts.Namespace, Err: err}
	}

	if err := ns.End(); err != nil {
		say("Failed to store calibration")
		return Record{}, &measurement.PersistenceError{Op: "commit " + c.opts.Namespace, Err: err}
	}
	say("New zero pos: %d", rec.ZeroPos)

	if err := c.sleep(ctx, c.opts.DonePause); err != nil {
		// already stored; a cancelled pause does not undo it
		c.log.Debugf("calibration: done pause interrupted: %v", err)
	}
	say("Calibration done!")
	return rec, nil
}

// step waits for the operator and captures one raw angle.
func (c *Calibrator) step(ctx context.Context, trig Trigger, prompt string) (uint16, error) {
	if err := trig.WaitRelease(ctx); err != nil {
		return 0, err
	}
	c.opts.Announce(prompt)
	if err := trig.WaitPress(ctx); err != nil {
		return 0, err
	}
	raw, err := c.angle.RawAngle()
	if err != nil {
		c.opts.Announce("Angle sensor error, calibration aborted")
		return 0, fmt.Errorf("calibration: read angle: %w", err)
	}
	return raw, nil
}

// ZeroReset makes the current position read as zero. The stored zero_pos
// is updated first; memory only changes once the write succeeded. Calling
// it twice without movement stores the same value both times.
func (c *Calibrator) ZeroReset() (int32, error) {
	raw, err := c.angle.RawAngle()
	if err != nil {
		return 0, fmt.Errorf("zero reset: read angle: %w", err)
	}

	rec := c.Record()
	rec.ZeroPos = 0
	pos, err := c.opts.Mapper.Map(raw, rec)
	if err != nil {
		return 0, err
	}
	zero := pos.Micrometers

	ns, err := c.store.Begin(c.opts.Namespace, false)
	if err != nil {
		c.opts.Announce("Failed to open preferences in write mode")
		return 0, &measurement.PersistenceError{Op: "open " + c.opts.Namespace, Err: err}
	}
	if err := ns.PutInt(KeyZeroPos, zero); err != nil {
		return 0, &measurement.PersistenceError{Op: "write " + KeyZeroPos, Err: err}
	}
	if err := ns.End(); err != nil {
		return 0, &measurement.PersistenceError{Op: "commit " + c.opts.Namespace, Err: err}
	}

	c.mu.Lock()
	c.rec.ZeroPos = zero
	c.mu.Unlock()
	c.opts.Announce("New zero_pos: %d", zero)
	return zero, nil
}
