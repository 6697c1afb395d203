// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package measurement

import (
	"errors"
	"fmt"
)

// ErrDecodeStall is returned when the dial indicator delivers no complete
// frame within the read timeout.
var ErrDecodeStall = errors.New("dial decoder: no complete frame before timeout")

// BusError reports a failed or unacknowledged bus transaction.
type BusError struct {
	Device string
	Op     string
	Err    error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s: bus %s: %v", e.Device, e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// ChecksumError reports a CRC mismatch on one measurement channel.
type ChecksumError struct {
	Device  string
	Channel string
	Got     uint8
	Want    uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: %s CRC mismatch (got 0x%02X, want 0x%02X)", e.Device, e.Channel, e.Got, e.Want)
}

// PersistenceError reports that the calibration or session store could not
// be opened or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransportError reports a join or send failure. Code carries the
// transport-specific status where one exists.
type TransportError struct {
	Op   string
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
