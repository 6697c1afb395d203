// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// SHT45DefaultAddr is the factory I²C address of the SHT45.
const SHT45DefaultAddr = 0x44

const (
	sht45MeasureHighPrecision byte = 0xFD
	sht45SoftReset            byte = 0x94

	// high precision measurement takes 8.2ms max according to the datasheet
	sht45MeasureDelay = 10 * time.Millisecond
	sht45ResetDelay   = time.Millisecond
)

// SHT45 reads temperature and humidity from a Sensirion SHT45. Each 16-bit
// word on the wire is followed by its own CRC-8; a bad checksum invalidates
// that channel only.
type SHT45 struct {
	d     *i2c.Dev
	log   *zap.SugaredLogger
	mu    sync.Mutex
	sleep func(time.Duration)
}

// NewSHT45 returns a driver for the sensor at addr on bus.
func NewSHT45(bus i2c.Bus, addr uint16, log *zap.SugaredLogger) *SHT45 {
	return &SHT45{
		d:     &i2c.Dev{Bus: bus, Addr: addr},
		log:   log,
		sleep: time.Sleep,
	}
}

// Read triggers a high precision measurement and returns both channels.
// A measure command that is not acknowledged is retried once after a soft
// reset. The returned error, when non-nil, is a *measurement.BusError or one
// or more *measurement.ChecksumError combined with multierr; the Environment
// is always usable and marks the failed channels invalid.
func (s *SHT45) Read() (measurement.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := measurement.Environment{
		Temperature: measurement.Invalid(),
		Humidity:    measurement.Invalid(),
	}

	if err := s.d.Tx([]byte{sht45MeasureHighPrecision}, nil); err != nil {
		s.log.Warnf("sht45: measure command not acknowledged, resetting: %v", err)
		measureErr := &measurement.BusError{Device: "sht45", Op: "measure", Err: err}
		if err := s.softReset(); err != nil {
			return failed, multierr.Append(measureErr, err)
		}
		if err := s.d.Tx([]byte{sht45MeasureHighPrecision}, nil); err != nil {
			s.log.Warnf("sht45: measure command not acknowledged after reset: %v", err)
			return failed, &measurement.BusError{Device: "sht45", Op: "measure", Err: err}
		}
	}
	s.sleep(sht45MeasureDelay)

	buf := make([]byte, 6)
	if err := s.d.Tx(nil, buf); err != nil {
		s.log.Warnf("sht45: read failed: %v", err)
		return failed, &measurement.BusError{Device: "sht45", Op: "read", Err: err}
	}

	env, err := decodeSHT45(buf)
	if err != nil {
		s.log.Warnf("sht45: %v", err)
	}
	return env, err
}

// decodeSHT45 validates and converts the 6-byte measurement response
// [t_msb t_lsb t_crc h_msb h_lsb h_crc].
func decodeSHT45(buf []byte) (measurement.Environment, error) {
	var (
		env  measurement.Environment
		errs error
	)

	if want := CRC8(buf[0:2]); want != buf[2] {
		env.Temperature = measurement.Invalid()
		errs = multierr.Append(errs, &measurement.ChecksumError{
			Device: "sht45", Channel: "temperature", Got: buf[2], Want: want,
		})
	} else {
		raw := uint16(buf[0])<<8 | uint16(buf[1])
		env.Temperature = measurement.OK(float32(-45.0 + 175.0*(float64(raw)/65535.0)))
	}

	if want := CRC8(buf[3:5]); want != buf[5] {
		env.Humidity = measurement.Invalid()
		errs = multierr.Append(errs, &measurement.ChecksumError{
			Device: "sht45", Channel: "humidity", Got: buf[5], Want: want,
		})
	} else {
		raw := uint16(buf[3])<<8 | uint16(buf[4])
		env.Humidity = measurement.OK(float32(-6.0 + 125.0*(float64(raw)/65535.0)))
	}

	return env, errs
}

// softReset reboots the sensor. The caller holds mu.
func (s *SHT45) softReset() error {
	if err := s.d.Tx([]byte{sht45SoftReset}, nil); err != nil {
		return &measurement.BusError{Device: "sht45", Op: "soft reset", Err: err}
	}
	s.sleep(sht45ResetDelay)
	return nil
}
