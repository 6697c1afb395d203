// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Sleeper ends a wake cycle. When DeepSleep returns nil the caller starts
// over from boot.
type Sleeper interface {
	DeepSleep(ctx context.Context, d time.Duration) error
}

// ProcessSleeper waits inside the process. Used on the bench and on boards
// without a wake alarm.
type ProcessSleeper struct {
	Log *zap.SugaredLogger
}

// DeepSleep blocks for d or until ctx is done.
func (p ProcessSleeper) DeepSleep(ctx context.Context, d time.Duration) error {
	p.Log.Infof("sleep: sleeping %s in process", d.Round(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RTCSleeper arms the RTC wake alarm and powers the board off.
type RTCSleeper struct {
	WakeAlarm string   // e.g. /sys/class/rtc/rtc0/wakealarm
	Command   []string // e.g. ["poweroff"]
	Log       *zap.SugaredLogger

	// run executes the shutdown command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
}

// DeepSleep writes the alarm and runs the shutdown command. On success it
// blocks until the system goes down.
func (r RTCSleeper) DeepSleep(ctx context.Context, d time.Duration) error {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	// the kernel refuses a new alarm while one is armed
	if err := os.WriteFile(r.WakeAlarm, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("sleep: clear wake alarm: %w", err)
	}
	if err := os.WriteFile(r.WakeAlarm, []byte("+"+strconv.FormatInt(secs, 10)), 0o644); err != nil {
		return fmt.Errorf("sleep: set wake alarm: %w", err)
	}
	r.Log.Infof("sleep: wake alarm set for +%ds", secs)

	if len(r.Command) == 0 {
		return fmt.Errorf("sleep: no shutdown command configured")
	}
	run := r.run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}
	if err := run(ctx, r.Command[0], r.Command[1:]...); err != nil {
		return fmt.Errorf("sleep: %s: %w", r.Command[0], err)
	}
	<-ctx.Done()
	return ctx.Err()
}
