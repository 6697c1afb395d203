// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// Battery reports the charge level in percent.
type Battery interface {
	Percent() measurement.Reading
}

// SysfsBattery reads a power_supply capacity file. An empty path or a
// missing file means the level is not measured; garbage is invalid.
type SysfsBattery struct {
	Path string
}

// Percent reads the capacity file.
func (b SysfsBattery) Percent() measurement.Reading {
	if b.Path == "" {
		return measurement.NotMeasured()
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return measurement.NotMeasured()
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 || v > 100 {
		return measurement.Invalid()
	}
	return measurement.OK(float32(v))
}
