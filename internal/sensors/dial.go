// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// Dial indicator bit-serial frame: one bit per falling clock edge, LSB first.
// Bits 0..20 form the magnitude (bit 0 is a framing artifact and is shifted
// out), the 22nd edge carries the sign. Frames are separated by a clock gap
// longer than the timeout.
const (
	dialMagnitudeBits = 21

	// DefaultDialClockTimeout separates two frames.
	DefaultDialClockTimeout = 1000 * time.Microsecond
)

// sampleCell hands one completed frame from the edge context to the reader.
// Value, completion time and ready flag change together under mu; notify
// wakes a waiting reader.
type sampleCell struct {
	mu     sync.Mutex
	value  int32
	at     time.Time
	ready  bool
	notify chan struct{}
}

func newSampleCell() *sampleCell {
	return &sampleCell{notify: make(chan struct{}, 1)}
}

func (c *sampleCell) publish(v int32, at time.Time) {
	c.mu.Lock()
	c.value = v
	c.at = at
	c.ready = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// take consumes the held frame. A frame completed before since is dropped.
func (c *sampleCell) take(since time.Time) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0, false
	}
	c.ready = false
	if c.at.Before(since) {
		return 0, false
	}
	return c.value, true
}

// DialDecoder rebuilds signed samples from the dial indicator clock/data
// lines. Edge is called from the edge context, Take from the foreground.
type DialDecoder struct {
	timeout time.Duration

	mu       sync.Mutex // guards the in-progress frame
	bitCount int
	acc      uint32
	last     time.Time

	cell *sampleCell
}

// NewDialDecoder returns a decoder that resynchronizes after a clock gap
// longer than timeout.
func NewDialDecoder(timeout time.Duration) *DialDecoder {
	if timeout <= 0 {
		timeout = DefaultDialClockTimeout
	}
	return &DialDecoder{timeout: timeout, cell: newSampleCell()}
}

// Edge consumes one falling clock edge observed at time at, with the data
// line level sampled at that edge.
func (d *DialDecoder) Edge(at time.Time, dataHigh bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last.IsZero() || at.Sub(d.last) > d.timeout {
		d.acc = 0
		d.bitCount = 0
	}

	if d.bitCount < dialMagnitudeBits {
		if dataHigh {
			d.acc |= 1 << uint(d.bitCount)
		}
	}

	if d.bitCount == dialMagnitudeBits {
		v := int32(d.acc >> 1)
		if dataHigh {
			v = -v
		}
		d.cell.publish(v, at)
		d.acc = 0
	}

	d.last = at
	// edges after the sign bit are ignored until the next gap
	if d.bitCount <= dialMagnitudeBits {
		d.bitCount++
	}
}

// BitCount returns the number of edges seen since the last clock gap,
// stopping at 22 once a frame is complete.
func (d *DialDecoder) BitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bitCount
}

// Take waits up to wait for a frame completed at or after since and returns
// its raw value in hundredths of a millimetre. The frame is consumed; an
// older frame still held is discarded. It returns measurement.ErrDecodeStall
// when nothing fresh arrives in time.
func (d *DialDecoder) Take(ctx context.Context, since time.Time, wait time.Duration) (int32, error) {
	if v, ok := d.cell.take(since); ok {
		return v, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-d.cell.notify:
			if v, ok := d.cell.take(since); ok {
				return v, nil
			}
		case <-timer.C:
			return 0, measurement.ErrDecodeStall
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// EdgeWaiter is the clock input of the dial indicator.
type EdgeWaiter interface {
	WaitForEdge(timeout time.Duration) bool
}

// LevelReader is any input that can be sampled.
type LevelReader interface {
	Read() gpio.Level
}

// DialWatcher pumps GPIO clock edges into a DialDecoder.
type DialWatcher struct {
	Clock   EdgeWaiter
	Data    LevelReader
	Invert  bool // data line goes through an inverting level shifter
	Decoder *DialDecoder

	now func() time.Time
}

// Run blocks until ctx is done, feeding every falling clock edge to the decoder.
func (w *DialWatcher) Run(ctx context.Context) error {
	now := w.now
	if now == nil {
		now = time.Now
	}
	for ctx.Err() == nil {
		if !w.Clock.WaitForEdge(100 * time.Millisecond) {
			continue
		}
		at := now()
		high := w.Data.Read() == gpio.High
		if w.Invert {
			high = !high
		}
		w.Decoder.Edge(at, high)
	}
	return ctx.Err()
}

// OpenDialPins configures the clock pin for falling-edge detection and the
// data pin as a plain input.
func OpenDialPins(clockName, dataName string) (gpio.PinIn, gpio.PinIn, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}

	clock := gpioreg.ByName(clockName)
	if clock == nil {
		return nil, nil, fmt.Errorf("dial clock pin %q not found", clockName)
	}
	data := gpioreg.ByName(dataName)
	if data == nil {
		return nil, nil, fmt.Errorf("dial data pin %q not found", dataName)
	}

	if err := clock.In(gpio.PullNoChange, gpio.FallingEdge); err != nil {
		return nil, nil, fmt.Errorf("dial clock pin %s: %w", clockName, err)
	}
	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, nil, fmt.Errorf("dial data pin %s: %w", dataName, err)
	}
	return clock, data, nil
}
