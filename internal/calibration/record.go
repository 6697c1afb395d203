// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration turns raw encoder angles and dial readings into
// millimetres and owns the persisted calibration record.
package calibration

import (
	"errors"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// DefaultNamespace is the preferences namespace holding the calibration.
const DefaultNamespace = "crackMon"

// Stored keys. Presence of KeyStartAngle means calibration has been performed.
const (
	KeyStartAngle = "start_angle"
	KeyEndAngle   = "end_angle"
	KeyZeroPos    = "zero_pos"
)

// ErrZeroSpan is returned when start and end angle coincide; such a record
// cannot map angles to a length.
var ErrZeroSpan = errors.New("calibration: end angle equals start angle")

// ErrSpanTooWide is returned when the end angle falls inside the gap before
// the start angle; the last part of such a travel would read as negative.
var ErrSpanTooWide = errors.New("calibration: end angle inside the gap before the start angle")

// Record is the rotary calibration: where the travel starts, how many
// raw counts it spans and the mapped position (µm) at the user zero.
type Record struct {
	StartAngle int32 `json:"start_angle"`
	EndAngle   int32 `json:"end_angle"`
	ZeroPos    int32 `json:"zero_pos"`
}

// DefaultRecord is used until a calibration exists. ZeroPos=100 is a
// placeholder, not a meaningful offset.
func DefaultRecord() Record {
	return Record{StartAngle: 0, EndAngle: 4096, ZeroPos: 100}
}

// LoadRecord reads the record from namespace. found is false when no
// calibration has been stored yet; rec then holds the defaults.
func LoadRecord(store *prefs.Store, namespace string) (rec Record, found bool, err error) {
	rec = DefaultRecord()

	ns, err := store.Begin(namespace, true)
	if err != nil {
		return rec, false, &measurement.PersistenceError{Op: "open " + namespace, Err: err}
	}
	defer ns.End()

	if !ns.IsKey(KeyStartAngle) {
		return rec, false, nil
	}
	rec.StartAngle = ns.GetInt(KeyStartAngle, rec.StartAngle)
	rec.EndAngle = ns.GetInt(KeyEndAngle, rec.EndAngle)
	rec.ZeroPos = ns.GetInt(KeyZeroPos, rec.ZeroPos)
	return rec, true, nil
}

func putRecord(ns *prefs.Namespace, rec Record) error {
	if err := ns.PutInt(KeyStartAngle, rec.StartAngle); err != nil {
		return err
	}
	if err := ns.PutInt(KeyEndAngle, rec.EndAngle); err != nil {
		return err
	}
	return ns.PutInt(KeyZeroPos, rec.ZeroPos)
}
