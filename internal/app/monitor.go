// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/crack_monitor/internal/acquisition"
	"github.com/relabs-tech/crack_monitor/internal/calibration"
	"github.com/relabs-tech/crack_monitor/internal/config"
	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/payload"
	"github.com/relabs-tech/crack_monitor/internal/platform"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
	"github.com/relabs-tech/crack_monitor/internal/sensors"
	"github.com/relabs-tech/crack_monitor/internal/transport"
)

// Monitor owns the hardware of one crack monitor and runs its boot flow.
type Monitor struct {
	cfg *config.Config
	log *zap.SugaredLogger

	store   *prefs.Store
	display platform.Display

	// SW1 and SW2. Either may be nil when the pin could not be opened.
	calibrateBtn *platform.Button
	zeroBtn      *platform.Button

	// rotary
	calibrator *calibration.Calibrator

	// dial
	dialCal *calibration.DialCalibrator
	decoder *sensors.DialDecoder
	watcher *sensors.DialWatcher

	cycle   *acquisition.Cycle
	closers []func() error
}

// NewMonitor opens the bus, sensors, buttons, display and transport
// described by cfg.
func NewMonitor(cfg *config.Config, log *zap.SugaredLogger) (*Monitor, error) {
	m := &Monitor{
		cfg:   cfg,
		log:   log,
		store: prefs.Open(cfg.CalibrationFile),
	}
	if err := m.open(); err != nil {
		return nil, multierr.Append(err, m.Close())
	}
	return m, nil
}

func (m *Monitor) open() error {
	cfg, log := m.cfg, m.log

	var bus i2c.BusCloser
	if cfg.Variant == measurement.Rotary || cfg.DisplayEnabled {
		var err error
		bus, err = sensors.OpenBus(cfg.I2CBus)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, bus.Close)
		log.Infof("monitor: i2c bus %s opened", bus)
	}

	m.display = m.openDisplay(bus)
	m.calibrateBtn = m.openButton(cfg.ButtonCalibratePin, "SW1")
	m.zeroBtn = m.openButton(cfg.ButtonZeroPin, "SW2")

	agg := &acquisition.Aggregator{
		Variant: cfg.Variant,
		Battery: platform.SysfsBattery{Path: cfg.BatterySupply},
		Log:     log,
	}

	switch cfg.Variant {
	case measurement.Rotary:
		angle := sensors.NewAS5600(bus, cfg.AS5600Addr)
		m.calibrator = calibration.NewCalibrator(m.store, angle, log, calibration.Options{
			Namespace: cfg.CalibrationNamespace,
			Mapper:    calibration.Mapper{TravelLength: cfg.TravelLengthUM, GapAngle: cfg.GapAngle},
			Announce:  m.announce,
		})
		agg.Position = acquisition.RotaryPosition{Calibrator: m.calibrator}
		agg.PCB = sensors.NewMCP9808(bus, cfg.MCP9808Addr, float64(cfg.PCBTempOffset))
		if cfg.EnvSensorEnabled {
			agg.Env = sensors.NewSHT45(bus, cfg.SHT45Addr, log)
		}

	case measurement.Dial:
		clock, data, err := sensors.OpenDialPins(cfg.DialClockPin, cfg.DialDataPin)
		if err != nil {
			return err
		}
		m.decoder = sensors.NewDialDecoder(cfg.DialClockTimeout)
		m.watcher = &sensors.DialWatcher{
			Clock:   clock,
			Data:    data,
			Invert:  cfg.DialDataInverted,
			Decoder: m.decoder,
		}
		m.dialCal = calibration.NewDialCalibrator(m.store, cfg.CalibrationNamespace, log)
		agg.Position = acquisition.DialPosition{
			Decoder:    m.decoder,
			Calibrator: m.dialCal,
			Wait:       cfg.DialReadTimeout,
		}

	default:
		return fmt.Errorf("monitor: unknown variant %q", cfg.Variant)
	}

	tr, err := OpenTransport(cfg, m.store, log)
	if err != nil {
		return err
	}
	m.closers = append(m.closers, tr.Close)

	m.cycle = &acquisition.Cycle{
		Aggregator:       agg,
		Encoder:          payload.Encoder{Variant: cfg.Variant, Layout: payload.Layout(cfg.FrameLayout)},
		Transport:        tr,
		Display:          m.display,
		Sleeper:          NewSleeper(cfg, log),
		Log:              log,
		FPort:            cfg.UplinkFPort,
		MinimumDelay:     cfg.MinimumDelay,
		DutyCycleEnabled: cfg.DutyCycleEnabled,
		MsPerHour:        cfg.DutyCycleMsPerHour,
		DisplayHold:      displayHold(cfg, m.display),
		FailurePolicy:    cfg.EnvFailureValue,
	}
	return nil
}

// displayHold is how long a cycle keeps its result on screen. Only a real
// panel needs the pause.
func displayHold(cfg *config.Config, d platform.Display) time.Duration {
	if !cfg.DisplayEnabled {
		return 0
	}
	if _, ok := d.(*platform.LogDisplay); ok {
		return 0
	}
	return cfg.DisplayHold
}

func (m *Monitor) openDisplay(bus i2c.Bus) platform.Display {
	logDisplay := platform.NewLogDisplay(m.log)
	if !m.cfg.DisplayEnabled || bus == nil {
		return logDisplay
	}
	oled, dev, err := platform.OpenOLED(bus)
	if err != nil {
		m.log.Warnf("monitor: oled not available, logging status only: %v", err)
		return logDisplay
	}
	m.closers = append(m.closers, dev.Halt)
	return platform.Multi{oled, logDisplay}
}

func (m *Monitor) openButton(pin, name string) *platform.Button {
	if pin == "" {
		return nil
	}
	b, err := platform.OpenButton(pin)
	if err != nil {
		m.log.Warnf("monitor: button %s on %s not available: %v", name, pin, err)
		return nil
	}
	return b
}

func (m *Monitor) announce(format string, args ...any) {
	platform.Announce(m.display, m.log, format, args...)
}

func pressed(b *platform.Button) bool {
	return b != nil && b.Pressed()
}

// Run boots, runs the selected flow and repeats after every wake until ctx
// is done. With the rtc sleeper the first successful sleep request powers
// the board off.
func (m *Monitor) Run(ctx context.Context) error {
	if m.watcher != nil {
		go func() {
			if err := m.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warnf("monitor: dial watcher stopped: %v", err)
			}
		}()
	}

	for {
		if err := m.Boot(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Boot selects the mode once from the buttons and the stored calibration,
// then runs that flow to its end.
func (m *Monitor) Boot(ctx context.Context) error {
	needsCalibration, err := m.loadCalibration()
	if err != nil {
		m.log.Warnf("monitor: %v", err)
	}

	mode := acquisition.SelectMode(acquisition.BootState{
		Variant:          m.cfg.Variant,
		CalibratePressed: pressed(m.calibrateBtn),
		ZeroPressed:      pressed(m.zeroBtn),
		NeedsCalibration: needsCalibration,
	})
	m.log.Infof("monitor: boot mode %s", mode)

	switch mode {
	case acquisition.ModeCalibrate:
		return m.calibrate(ctx)
	case acquisition.ModeZeroReset:
		return m.zeroReset(ctx)
	default:
		rep, err := m.cycle.Run(ctx)
		if err != nil {
			return fmt.Errorf("monitor: sleep: %w", err)
		}
		m.log.Infof("monitor: cycle done, outcome %s, slept %s", rep.Result.Outcome, rep.SleepFor)
		return nil
	}
}

func (m *Monitor) loadCalibration() (bool, error) {
	if m.calibrator != nil {
		return m.calibrator.Load()
	}
	return false, m.dialCal.Load()
}

func (m *Monitor) calibrate(ctx context.Context) error {
	if m.zeroBtn == nil {
		m.announce("No step button, run the calibration tool instead.")
		return m.sleepAfterFailure(ctx)
	}
	if err := m.calibrator.Run(ctx, m.zeroBtn); err != nil {
		m.log.Warnf("monitor: calibration: %v", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return platform.WaitAllReleased(ctx, m.buttons()...)
}

func (m *Monitor) zeroReset(ctx context.Context) error {
	var err error
	if m.calibrator != nil {
		_, err = m.calibrator.ZeroReset()
	} else {
		var raw int32
		raw, err = m.decoder.Take(ctx, time.Now(), m.cfg.DialReadTimeout)
		if err == nil {
			var zero float32
			zero, err = m.dialCal.ZeroReset(raw)
			if err == nil {
				m.announce("New zero_pos: %.2f", zero)
			}
		}
	}
	if err != nil {
		m.log.Warnf("monitor: zero reset: %v", err)
		m.announce("Zero reset failed.")
	}
	return platform.WaitAllReleased(ctx, m.buttons()...)
}

// sleepAfterFailure ends a boot that cannot do anything useful.
func (m *Monitor) sleepAfterFailure(ctx context.Context) error {
	return m.cycle.Sleeper.DeepSleep(ctx, m.cfg.MinimumDelay)
}

func (m *Monitor) buttons() []*platform.Button {
	var out []*platform.Button
	for _, b := range []*platform.Button{m.calibrateBtn, m.zeroBtn} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Close releases the transport, display and bus.
func (m *Monitor) Close() error {
	var errs error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, m.closers[i]())
	}
	m.closers = nil
	return errs
}

// OpenTransport builds the transport selected by TRANSPORT.
func OpenTransport(cfg *config.Config, store *prefs.Store, log *zap.SugaredLogger) (transport.Transport, error) {
	switch cfg.Transport {
	case "mqtt":
		client := transport.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientIDMonitor)
		return transport.NewMQTT(client, store, log, transport.MQTTOptions{
			DeviceID:        cfg.DeviceID,
			Topic:           cfg.TopicUplink,
			SpreadingFactor: cfg.LoRaSpreadingFactor,
		}), nil
	case "modem":
		return transport.OpenModem(cfg.ModemSerialPort, cfg.ModemBaudRate, store, log, transport.ModemOptions{
			SpreadingFactor: cfg.LoRaSpreadingFactor,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// NewSleeper builds the sleeper selected by SLEEP_MODE.
func NewSleeper(cfg *config.Config, log *zap.SugaredLogger) platform.Sleeper {
	if cfg.SleepMode == "rtc" {
		return platform.RTCSleeper{
			WakeAlarm: cfg.RTCWakeAlarm,
			Command:   cfg.ShutdownCommand,
			Log:       log,
		}
	}
	return platform.ProcessSleeper{Log: log}
}

// RunMonitor runs the monitor with the global configuration until ctx is done.
func RunMonitor(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("monitor: configuration not loaded")
	}
	m, err := NewMonitor(cfg, log)
	if err != nil {
		return err
	}
	log.Infof("monitor: %s variant, device %s, transport %s", cfg.Variant, cfg.DeviceID, cfg.Transport)

	runErr := m.Run(ctx)
	return multierr.Append(runErr, m.Close())
}
