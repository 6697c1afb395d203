// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

func TestParseEmptyGivesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# nothing\n\n"))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if cfg.Variant != measurement.Rotary || cfg.FrameLayout != 10 || cfg.GapAngle != 150 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MinimumDelay != 20*time.Minute || cfg.DutyCycleMsPerHour != 1250 {
		t.Errorf("timing defaults = %v / %d", cfg.MinimumDelay, cfg.DutyCycleMsPerHour)
	}
	if cfg.AS5600Addr != 0x36 || cfg.SHT45Addr != 0x44 {
		t.Errorf("addresses = 0x%X 0x%X", cfg.AS5600Addr, cfg.SHT45Addr)
	}
}

func TestParseOverrides(t *testing.T) {
	in := `
VARIANT = dial
FRAME_LAYOUT=9
DIAL_CLOCK_TIMEOUT_US=1500
MINIMUM_DELAY_S=600
ENV_FAILURE_VALUE=sentinel
MCP9808_ADDR=0x18
TRANSPORT=mqtt
MQTT_BROKER=tcp://localhost:1883
SHUTDOWN_COMMAND=systemctl poweroff
`
	cfg, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if cfg.Variant != measurement.Dial {
		t.Errorf("Variant = %q", cfg.Variant)
	}
	if cfg.FrameLayout != 9 {
		t.Errorf("FrameLayout = %d", cfg.FrameLayout)
	}
	if cfg.DialClockTimeout != 1500*time.Microsecond {
		t.Errorf("DialClockTimeout = %v", cfg.DialClockTimeout)
	}
	if cfg.MinimumDelay != 10*time.Minute {
		t.Errorf("MinimumDelay = %v", cfg.MinimumDelay)
	}
	if cfg.EnvFailureValue != measurement.FailSentinel {
		t.Errorf("EnvFailureValue = %v", cfg.EnvFailureValue)
	}
	if cfg.MCP9808Addr != 0x18 {
		t.Errorf("MCP9808Addr = 0x%X", cfg.MCP9808Addr)
	}
	if len(cfg.ShutdownCommand) != 2 || cfg.ShutdownCommand[1] != "poweroff" {
		t.Errorf("ShutdownCommand = %q", cfg.ShutdownCommand)
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "NOPE=1",
		"missing equals":    "VARIANT",
		"bad variant":       "VARIANT=laser",
		"bad layout":        "FRAME_LAYOUT=8",
		"gap too wide":      "GAP_ANGLE=2048",
		"zero travel":       "TRAVEL_LENGTH_UM=0",
		"address too large": "SHT45_ADDR=0x80",
		"negative duration": "DISPLAY_HOLD_MS=-1",
		"mqtt no broker":    "TRANSPORT=mqtt",
		"bad bool":          "DUTY_CYCLE_ENABLED=maybe",
		"bad fport":         "UPLINK_FPORT=0",
		"dial on i2c1":      "VARIANT=dial\nDIAL_CLOCK_PIN=GPIO2",
		"dial data on scl":  "VARIANT=dial\nI2C_BUS=1\nDIAL_DATA_PIN=GPIO3",
		"dial same pins":    "VARIANT=dial\nDIAL_DATA_PIN=GPIO17",
		"dial on button":    "VARIANT=dial\nDIAL_CLOCK_PIN=GPIO19",
	}
	for name, in := range cases {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error for %q", name, in)
		}
	}
}

func TestDialPinsDefaultsAndOverlap(t *testing.T) {
	cfg, err := Parse(strings.NewReader("VARIANT=dial\n"))
	if err != nil {
		t.Fatalf("default dial config: %v", err)
	}
	if cfg.DialClockPin != "GPIO17" || cfg.DialDataPin != "GPIO27" {
		t.Errorf("dial pins = %s/%s", cfg.DialClockPin, cfg.DialDataPin)
	}

	// I2C1 pins are free once nothing opens that bus
	in := "VARIANT=dial\nDISPLAY_ENABLED=false\nDIAL_CLOCK_PIN=GPIO2\nDIAL_DATA_PIN=GPIO3\n"
	if _, err := Parse(strings.NewReader(in)); err != nil {
		t.Errorf("display disabled: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crackmon_config.txt")
	if err := os.WriteFile(path, []byte("DEVICE_ID=bridge-7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DeviceID != "bridge-7" {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
}

func TestExampleConfigParses(t *testing.T) {
	if _, err := Load("../../crackmon_config.txt"); err != nil {
		t.Fatalf("example config: %v", err)
	}
}
