// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

const edgeSpacing = 100 * time.Microsecond

// dialFrame returns the 22 data levels the indicator sends for v.
func dialFrame(v int32) []bool {
	mag := v
	if mag < 0 {
		mag = -mag
	}
	acc := uint32(mag) << 1
	levels := make([]bool, 0, dialMagnitudeBits+1)
	for i := 0; i < dialMagnitudeBits; i++ {
		levels = append(levels, acc&(1<<uint(i)) != 0)
	}
	return append(levels, v < 0)
}

func feed(d *DialDecoder, start time.Time, levels []bool) time.Time {
	at := start
	for _, l := range levels {
		d.Edge(at, l)
		at = at.Add(edgeSpacing)
	}
	return at
}

func TestDialDecoderReconstructsSignedValues(t *testing.T) {
	for _, want := range []int32{12345, -12345, 0, 1, -1, 1<<20 - 1} {
		d := NewDialDecoder(time.Millisecond)
		feed(d, time.Unix(1000, 0), dialFrame(want))

		got, err := d.Take(context.Background(), time.Time{}, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("value %d: Take() err=%v", want, err)
		}
		if got != want {
			t.Errorf("decoded %d, want %d", got, want)
		}
	}
}

func TestDialDecoderGapResetsPartialFrame(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	start := time.Unix(1000, 0)

	// half a frame of noise, then silence
	end := feed(d, start, []bool{true, true, false, true, true, true, false, true, true, true})
	if got := d.BitCount(); got != 10 {
		t.Fatalf("BitCount() = %d, want 10", got)
	}

	resume := end.Add(2 * time.Millisecond)
	d.Edge(resume, false)
	if got := d.BitCount(); got != 1 {
		t.Fatalf("after gap BitCount() = %d, want 1", got)
	}

	// a fresh frame starting at the edge just fed
	frame := dialFrame(-4321)
	d2 := NewDialDecoder(time.Millisecond)
	end = feed(d2, start, []bool{true, true, true})
	feed(d2, end.Add(5*time.Millisecond), frame)
	got, err := d2.Take(context.Background(), time.Time{}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Take() err=%v", err)
	}
	if got != -4321 {
		t.Errorf("decoded %d, want -4321", got)
	}
}

func TestDialDecoderExtraEdgesIgnored(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	levels := append(dialFrame(777), true, true, true)
	feed(d, time.Unix(1000, 0), levels)

	got, err := d.Take(context.Background(), time.Time{}, 10*time.Millisecond)
	if err != nil || got != 777 {
		t.Fatalf("Take() = %d, %v; want 777", got, err)
	}
	if _, err := d.Take(context.Background(), time.Time{}, 5*time.Millisecond); !errors.Is(err, measurement.ErrDecodeStall) {
		t.Fatalf("trailing edges must not publish another frame, err=%v", err)
	}
}

func TestDialDecoderTakeConsumes(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	feed(d, time.Unix(1000, 0), dialFrame(250))

	raw, err := d.Take(context.Background(), time.Time{}, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if raw != 250 {
		t.Errorf("Take() = %d, want 250", raw)
	}
	if _, err := d.Take(context.Background(), time.Time{}, 5*time.Millisecond); !errors.Is(err, measurement.ErrDecodeStall) {
		t.Fatalf("second Take() err=%v, want ErrDecodeStall", err)
	}
}

func TestDialDecoderDropsFramesBeforeSince(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	start := time.Unix(1000, 0)
	end := feed(d, start, dialFrame(12345))

	// the indicator went quiet; a later cycle must not see the old frame
	if _, err := d.Take(context.Background(), end.Add(time.Minute), 5*time.Millisecond); !errors.Is(err, measurement.ErrDecodeStall) {
		t.Fatalf("Take() err=%v, want ErrDecodeStall", err)
	}

	feed(d, end.Add(2*time.Minute), dialFrame(-55))
	got, err := d.Take(context.Background(), end.Add(time.Minute), 5*time.Millisecond)
	if err != nil || got != -55 {
		t.Fatalf("fresh frame: Take() = %d, %v; want -55", got, err)
	}
}

func TestDialDecoderTakeHonoursContext(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Take(ctx, time.Time{}, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Take() err=%v, want context.Canceled", err)
	}
}

func TestDialDecoderTakeWaitsForFrame(t *testing.T) {
	d := NewDialDecoder(time.Millisecond)
	go func() {
		time.Sleep(5 * time.Millisecond)
		feed(d, time.Unix(1000, 0), dialFrame(-99))
	}()
	got, err := d.Take(context.Background(), time.Time{}, time.Second)
	if err != nil || got != -99 {
		t.Fatalf("Take() = %d, %v; want -99", got, err)
	}
}

// scriptedClock replays a list of data levels, one per clock edge.
type scriptedClock struct {
	levels []bool
	cur    gpio.Level
}

func (c *scriptedClock) WaitForEdge(timeout time.Duration) bool {
	if len(c.levels) == 0 {
		time.Sleep(time.Millisecond)
		return false
	}
	c.cur = gpio.Level(c.levels[0])
	c.levels = c.levels[1:]
	return true
}

func (c *scriptedClock) Read() gpio.Level { return c.cur }

func TestDialWatcherInvertedData(t *testing.T) {
	frame := dialFrame(12345)
	inverted := make([]bool, len(frame))
	for i, l := range frame {
		inverted[i] = !l
	}
	clk := &scriptedClock{levels: inverted}

	base := time.Unix(1000, 0)
	n := 0
	w := &DialWatcher{
		Clock:   clk,
		Data:    clk,
		Invert:  true,
		Decoder: NewDialDecoder(time.Millisecond),
		now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * edgeSpacing)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	got, err := w.Decoder.Take(context.Background(), time.Time{}, time.Second)
	cancel()
	<-done
	if err != nil || got != 12345 {
		t.Fatalf("Take() = %d, %v; want 12345", got, err)
	}
}
