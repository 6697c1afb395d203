// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"fmt"
	"image"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Display is a small line-oriented status screen. Failures are reported
// by Flush and are never fatal to the caller.
type Display interface {
	Clear()
	DrawLine(text string)
	Flush() error
}

// Announce draws one line and flushes immediately, like a serial console
// mirrored on the screen.
func Announce(d Display, log *zap.SugaredLogger, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	d.DrawLine(line)
	if err := d.Flush(); err != nil {
		log.Debugf("display: %v", err)
	}
}

// Panel geometry.
const (
	panelWidth  = 128
	panelHeight = 64
	lineHeight  = 12
	maxLines    = panelHeight / lineHeight
)

// lineBuffer keeps the last maxLines lines.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *lineBuffer) Clear() {
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.mu.Unlock()
}

func (b *lineBuffer) DrawLine(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, text)
	if n := len(b.lines); n > maxLines {
		b.lines = append(b.lines[:0], b.lines[n-maxLines:]...)
	}
}

func (b *lineBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Panel is the drawing surface of an SSD1306.
type Panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// OLED renders lines on a 128x64 SSD1306.
type OLED struct {
	lineBuffer
	panel Panel
}

// NewOLED wraps a panel.
func NewOLED(p Panel) *OLED {
	return &OLED{panel: p}
}

// OpenOLED initializes the SSD1306 at its default address on bus.
func OpenOLED(bus i2c.Bus) (*OLED, *ssd1306.Dev, error) {
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return nil, nil, fmt.Errorf("ssd1306 init: %w", err)
	}
	return NewOLED(dev), dev, nil
}

// Flush draws the buffered lines.
func (o *OLED) Flush() error {
	img := Render(o.snapshot())
	if err := o.panel.Draw(o.panel.Bounds(), img, image.Point{}); err != nil {
		return fmt.Errorf("oled draw: %w", err)
	}
	return nil
}

// Render draws lines top to bottom with the 7x13 font.
func Render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, panelWidth, panelHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= maxLines {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight-1)
		drawer.DrawString(line)
	}
	return img
}

// LogDisplay writes each flushed line to the logger. Used when no panel
// is fitted and as the console half of "print on both".
type LogDisplay struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	pending []string
}

// NewLogDisplay returns a display backed by log.
func NewLogDisplay(log *zap.SugaredLogger) *LogDisplay {
	return &LogDisplay{log: log}
}

// Clear drops lines not yet flushed.
func (l *LogDisplay) Clear() {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()
}

// DrawLine queues a line.
func (l *LogDisplay) DrawLine(text string) {
	l.mu.Lock()
	l.pending = append(l.pending, text)
	l.mu.Unlock()
}

// Flush logs the lines drawn since the last flush.
func (l *LogDisplay) Flush() error {
	l.mu.Lock()
	lines := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, line := range lines {
		l.log.Infof("display: %s", line)
	}
	return nil
}

// Multi fans out to several displays.
type Multi []Display

func (m Multi) Clear() {
	for _, d := range m {
		d.Clear()
	}
}

func (m Multi) DrawLine(text string) {
	for _, d := range m {
		d.DrawLine(text)
	}
}

func (m Multi) Flush() error {
	var errs error
	for _, d := range m {
		errs = multierr.Append(errs, d.Flush())
	}
	return errs
}

// Nop discards everything.
type Nop struct{}

func (Nop) Clear()          {}
func (Nop) DrawLine(string) {}
func (Nop) Flush() error    { return nil }
