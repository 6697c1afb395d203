// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package platform holds the board collaborators of the monitor: push
// buttons, status display, deep sleep and battery level.
package platform

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ButtonPollInterval is how often a waiting button is sampled.
const ButtonPollInterval = 20 * time.Millisecond

// Input is a readable GPIO line.
type Input interface {
	Read() gpio.Level
}

// Button is an active-low push button with an internal pull-up.
type Button struct {
	in   Input
	name string
	poll time.Duration
}

// NewButton wraps an already configured input.
func NewButton(in Input, name string) *Button {
	return &Button{in: in, name: name, poll: ButtonPollInterval}
}

// OpenButton configures the named GPIO as a pulled-up input.
func OpenButton(pinName string) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("button pin %q not found", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("button pin %s: %w", pinName, err)
	}
	return NewButton(pin, pinName), nil
}

// Name returns the pin name.
func (b *Button) Name() string { return b.name }

// Pressed samples the button once.
func (b *Button) Pressed() bool {
	return b.in.Read() == gpio.Low
}

// WaitRelease blocks until the button is up.
func (b *Button) WaitRelease(ctx context.Context) error {
	return b.waitFor(ctx, false)
}

// WaitPress blocks until the button is down.
func (b *Button) WaitPress(ctx context.Context) error {
	return b.waitFor(ctx, true)
}

func (b *Button) waitFor(ctx context.Context, pressed bool) error {
	t := time.NewTicker(b.poll)
	defer t.Stop()
	for b.Pressed() != pressed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// WaitAllReleased blocks until none of the buttons is pressed.
func WaitAllReleased(ctx context.Context, buttons ...*Button) error {
	for _, b := range buttons {
		if b == nil {
			continue
		}
		if err := b.WaitRelease(ctx); err != nil {
			return err
		}
	}
	return nil
}
