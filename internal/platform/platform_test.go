// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/crack_monitor/internal/logging"
	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// scriptedInput returns levels from a list, repeating the last one.
type scriptedInput struct {
	levels []gpio.Level
	reads  atomic.Int32
}

func (s *scriptedInput) Read() gpio.Level {
	i := int(s.reads.Add(1)) - 1
	if i >= len(s.levels) {
		return s.levels[len(s.levels)-1]
	}
	return s.levels[i]
}

func TestButtonWaitReleaseThenPress(t *testing.T) {
	in := &scriptedInput{levels: []gpio.Level{gpio.Low, gpio.Low, gpio.High, gpio.High, gpio.Low}}
	b := NewButton(in, "GPIO19")
	b.poll = time.Millisecond

	ctx := context.Background()
	if err := b.WaitRelease(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.WaitPress(ctx); err != nil {
		t.Fatal(err)
	}
	if !b.Pressed() {
		t.Errorf("button should read pressed")
	}
}

func TestButtonWaitCancelled(t *testing.T) {
	b := NewButton(&scriptedInput{levels: []gpio.Level{gpio.High}}, "GPIO20")
	b.poll = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.WaitPress(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitPress() err=%v", err)
	}
}

func litRows(img *image1bit.VerticalLSB) map[int]bool {
	rows := map[int]bool{}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				rows[y] = true
				break
			}
		}
	}
	return rows
}

func TestRenderPlacesLines(t *testing.T) {
	img := Render([]string{"Pos: 1.234 mm"})
	rows := litRows(img)
	if len(rows) == 0 {
		t.Fatal("nothing drawn")
	}
	for y := range rows {
		if y >= lineHeight+2 {
			t.Errorf("first line bleeds into row %d", y)
		}
	}

	img = Render([]string{"", "", "", "", "Next TX in 20 min"})
	for y := range litRows(img) {
		if y < 4*lineHeight-2 {
			t.Errorf("fifth line drawn at row %d", y)
		}
	}
}

type fakePanel struct {
	draws int
	last  image.Image
	err   error
}

func (p *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (p *fakePanel) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	p.draws++
	p.last = src
	return p.err
}

func TestOLEDScrollsAndFlushes(t *testing.T) {
	p := &fakePanel{}
	o := NewOLED(p)
	for i := 0; i < 7; i++ {
		o.DrawLine("line")
	}
	if n := len(o.snapshot()); n != maxLines {
		t.Errorf("buffered %d lines, want %d", n, maxLines)
	}
	if err := o.Flush(); err != nil {
		t.Fatal(err)
	}
	if p.draws != 1 || p.last == nil {
		t.Errorf("panel draws = %d", p.draws)
	}
	o.Clear()
	if len(o.snapshot()) != 0 {
		t.Errorf("Clear() kept lines")
	}
}

func TestMultiCollectsFlushErrors(t *testing.T) {
	bad := NewOLED(&fakePanel{err: errors.New("i2c nack")})
	m := Multi{NewLogDisplay(logging.Nop()), bad, Nop{}}
	m.Clear()
	m.DrawLine("BAT: 80 %")
	if err := m.Flush(); err == nil {
		t.Fatal("expected the failing panel error")
	}
}

func TestSysfsBattery(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "capacity")
	bad := filepath.Join(dir, "garbage")
	if err := os.WriteFile(good, []byte("87\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("full"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		want measurement.Reading
	}{
		{good, measurement.OK(87)},
		{bad, measurement.Invalid()},
		{filepath.Join(dir, "missing"), measurement.NotMeasured()},
		{"", measurement.NotMeasured()},
	}
	for _, tc := range cases {
		if got := (SysfsBattery{Path: tc.path}).Percent(); got != tc.want {
			t.Errorf("Percent(%q) = %+v, want %+v", tc.path, got, tc.want)
		}
	}
}

func TestRTCSleeperArmsAlarm(t *testing.T) {
	alarm := filepath.Join(t.TempDir(), "wakealarm")
	var ran []string
	s := RTCSleeper{
		WakeAlarm: alarm,
		Command:   []string{"poweroff", "--no-wall"},
		Log:       logging.Nop(),
		run: func(_ context.Context, name string, args ...string) error {
			ran = append([]string{name}, args...)
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // system "went down"
	if err := s.DeepSleep(ctx, 1200*time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("DeepSleep() err=%v", err)
	}
	data, err := os.ReadFile(alarm)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "+1200" {
		t.Errorf("wakealarm = %q, want +1200", data)
	}
	if len(ran) != 2 || ran[0] != "poweroff" {
		t.Errorf("ran %q", ran)
	}
}

func TestProcessSleeperReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	if err := (ProcessSleeper{Log: logging.Nop()}).DeepSleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Errorf("returned early")
	}
}
