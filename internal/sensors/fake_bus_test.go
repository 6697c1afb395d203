// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// fakeBus answers I²C transactions from a queue of canned replies.
type fakeBus struct {
	writes  [][]byte
	addrs   []uint16
	replies [][]byte
	errs    []error
}

var errNack = errors.New("i2c: nack")

func (b *fakeBus) String() string { return "fake-i2c" }

func (b *fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.addrs = append(b.addrs, addr)
	b.writes = append(b.writes, append([]byte(nil), w...))

	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return err
		}
	}
	if len(r) == 0 {
		return nil
	}
	if len(b.replies) == 0 {
		return fmt.Errorf("fake bus: no reply queued for read of %d bytes", len(r))
	}
	copy(r, b.replies[0])
	b.replies = b.replies[1:]
	return nil
}
