// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// DialCalibrator holds the dial indicator zero offset in millimetres. The
// indicator reports linear units, so the offset is the whole record.
type DialCalibrator struct {
	store     *prefs.Store
	namespace string
	log       *zap.SugaredLogger

	mu   sync.Mutex
	zero float32
}

// NewDialCalibrator returns a calibrator with zero offset 0 until Load.
func NewDialCalibrator(store *prefs.Store, namespace string, log *zap.SugaredLogger) *DialCalibrator {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &DialCalibrator{store: store, namespace: namespace, log: log}
}

// Load reads the stored offset. A store that cannot be opened leaves the
// offset at 0 and returns a *measurement.PersistenceError.
func (d *DialCalibrator) Load() error {
	ns, err := d.store.Begin(d.namespace, true)
	if err != nil {
		d.log.Warnf("dial calibration: open %s: %v, zero offset 0", d.namespace, err)
		return &measurement.PersistenceError{Op: "open " + d.namespace, Err: err}
	}
	defer ns.End()

	d.mu.Lock()
	d.zero = ns.GetFloat(KeyZeroPos, 0)
	d.mu.Unlock()
	d.log.Infof("dial calibration: zero_pos=%.2f mm", d.ZeroPos())
	return nil
}

// ZeroPos returns the offset in millimetres.
func (d *DialCalibrator) ZeroPos() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zero
}

// Position applies the offset to a raw reading in hundredths of a millimetre.
func (d *DialCalibrator) Position(raw int32) measurement.Position {
	mm := float32(float64(raw)/100.0) - d.ZeroPos()
	return measurement.Position{Reading: measurement.OK(mm), Angle: raw}
}

// ZeroReset stores raw as the new zero. Memory changes only after the
// write succeeded.
func (d *DialCalibrator) ZeroReset(raw int32) (float32, error) {
	zero := float32(float64(raw) / 100.0)

	ns, err := d.store.Begin(d.namespace, false)
	if err != nil {
		return 0, &measurement.PersistenceError{Op: "open " + d.namespace, Err: err}
	}
	if err := ns.PutFloat(KeyZeroPos, zero); err != nil {
		return 0, &measurement.PersistenceError{Op: "write " + KeyZeroPos, Err: err}
	}
	if err := ns.End(); err != nil {
		return 0, &measurement.PersistenceError{Op: "commit " + d.namespace, Err: err}
	}

	d.mu.Lock()
	d.zero = zero
	d.mu.Unlock()
	d.log.Infof("dial calibration: new zero_pos=%.2f mm", zero)
	return zero, nil
}
