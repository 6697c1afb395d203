// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/payload"
	"github.com/relabs-tech/crack_monitor/internal/platform"
	"github.com/relabs-tech/crack_monitor/internal/transport"
)

// Report summarizes one cycle.
type Report struct {
	Activated bool
	Sample    measurement.Sample
	Frame     []byte
	Result    transport.Result
	SleepFor  time.Duration
}

// Cycle drives one wake cycle. It never retries: every failure is logged
// and the cycle still ends in a sleep request, the next wake being the retry.
type Cycle struct {
	Aggregator *Aggregator
	Encoder    payload.Encoder
	Transport  transport.Transport
	Display    platform.Display
	Sleeper    platform.Sleeper
	Log        *zap.SugaredLogger

	FPort            uint8
	MinimumDelay     time.Duration
	DutyCycleEnabled bool
	MsPerHour        uint32
	DisplayHold      time.Duration
	FailurePolicy    measurement.FailurePolicy

	now  func() time.Time
	hold func(ctx context.Context, d time.Duration)
}

// Run executes the cycle and ends with the sleep request. The returned
// error is the sleeper's.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	now := c.now
	if now == nil {
		now = time.Now
	}
	started := now()

	var rep Report
	c.exchange(ctx, &rep)
	return rep, c.sleep(ctx, &rep, started, now)
}

func (c *Cycle) exchange(ctx context.Context, rep *Report) {
	say := func(format string, args ...any) {
		platform.Announce(c.Display, c.Log, format, args...)
	}

	if err := c.Transport.Begin(ctx); err != nil {
		c.Log.Errorf("cycle: radio did not initialize: %v", err)
		say("Radio did not initialize. We'll try again later.")
		return
	}
	if !c.Transport.IsActivated() {
		say("Could not join network. We'll try again later.")
		return
	}
	rep.Activated = true
	c.Transport.SetDutyCycle(c.DutyCycleEnabled, c.MsPerHour)

	if err := c.Aggregator.Collect(ctx, &rep.Sample); err != nil {
		c.Log.Warnf("cycle: sample incomplete: %v", err)
	}
	c.showSample(&rep.Sample)

	frame, err := c.Encoder.Encode(&rep.Sample)
	if err != nil {
		c.Log.Errorf("cycle: encode: %v", err)
		return
	}
	rep.Frame = frame
	c.Log.Infof("cycle: uplink % X", frame)

	rep.Result = c.Transport.SendReceive(ctx, frame, c.FPort)
	switch rep.Result.Outcome {
	case transport.SentNoDownlink:
		say("Message sent, no downlink received.")
	case transport.SentWithDownlink:
		say("Message sent, downlink received.")
		c.Log.Infof("cycle: downlink port %d: % X", rep.Result.FPort, rep.Result.Downlink)
	default:
		c.Log.Warnf("cycle: %v", rep.Result.Err)
		say("Send failed, we'll try again later.")
	}
}

// showSample draws the status frame.
func (c *Cycle) showSample(s *measurement.Sample) {
	f := c.FailurePolicy.Float
	c.Display.Clear()
	for _, line := range StatusLines(s, f) {
		c.Display.DrawLine(line)
	}
	if err := c.Display.Flush(); err != nil {
		c.Log.Debugf("cycle: display: %v", err)
	}
}

// StatusLines formats a sample for the status screen.
func StatusLines(s *measurement.Sample, f func(measurement.Reading) float32) []string {
	if s.Variant == measurement.Dial {
		return []string{
			fmt.Sprintf("Pos: %.2f mm", f(s.Position.Reading)),
			fmt.Sprintf("BAT: %.0f %%", f(s.Battery)),
		}
	}
	return []string{
		fmt.Sprintf("Pos: %.3f mm", f(s.Position.Reading)),
		fmt.Sprintf("BAT: %.0f %%", f(s.Battery)),
		fmt.Sprintf("PCB: %.1f °C", f(s.PCBTemperature)),
		fmt.Sprintf("EXT: %.1f °C, %.0f %%", f(s.External.Temperature), f(s.External.Humidity)),
	}
}

// sleep saves the session and requests max(duty-cycle wait, minimum delay)
// minus the time spent awake.
func (c *Cycle) sleep(ctx context.Context, rep *Report, started time.Time, now func() time.Time) error {
	if err := c.Transport.SaveSession(); err != nil {
		c.Log.Warnf("cycle: save session: %v", err)
	}

	delay := c.Transport.TimeUntilNextUplink()
	if delay < c.MinimumDelay {
		delay = c.MinimumDelay
	}
	platform.Announce(c.Display, c.Log, "Next TX in %d min", int(delay/time.Minute))

	hold := c.hold
	if hold == nil {
		hold = holdFor
	}
	if c.DisplayHold > 0 {
		hold(ctx, c.DisplayHold)
	}

	rep.SleepFor = delay - now().Sub(started)
	if rep.SleepFor < 0 {
		rep.SleepFor = 0
	}
	return c.Sleeper.DeepSleep(ctx, rep.SleepFor)
}

func holdFor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
