// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"time"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// SessionNamespace holds the network session in the preferences store.
const SessionNamespace = "lorawan"

const (
	keyActivated   = "activated"
	keyFCntUp      = "fcnt_up"
	keyLastUplink  = "last_uplink_ms"
	keyLastAirtime = "last_airtime_us"
)

// Session is the join state that has to survive deep sleep.
type Session struct {
	Activated   bool
	FCntUp      uint32
	LastUplink  time.Time
	LastAirtime time.Duration
}

// LoadSession reads the stored session. A missing session is the zero value.
func LoadSession(store *prefs.Store) (Session, error) {
	ns, err := store.Begin(SessionNamespace, true)
	if err != nil {
		return Session{}, &measurement.PersistenceError{Op: "open " + SessionNamespace, Err: err}
	}
	defer ns.End()

	s := Session{
		Activated:   ns.GetInt(keyActivated, 0) == 1,
		FCntUp:      uint32(ns.GetInt64(keyFCntUp, 0)),
		LastAirtime: time.Duration(ns.GetInt64(keyLastAirtime, 0)) * time.Microsecond,
	}
	if ms := ns.GetInt64(keyLastUplink, 0); ms > 0 {
		s.LastUplink = time.UnixMilli(ms)
	}
	return s, nil
}

// SaveSession stores s.
func SaveSession(store *prefs.Store, s Session) error {
	ns, err := store.Begin(SessionNamespace, false)
	if err != nil {
		return &measurement.PersistenceError{Op: "open " + SessionNamespace, Err: err}
	}

	activated := int32(0)
	if s.Activated {
		activated = 1
	}
	var last int64
	if !s.LastUplink.IsZero() {
		last = s.LastUplink.UnixMilli()
	}
	for _, put := range []func() error{
		func() error { return ns.PutInt(keyActivated, activated) },
		func() error { return ns.PutInt64(keyFCntUp, int64(s.FCntUp)) },
		func() error { return ns.PutInt64(keyLastUplink, last) },
		func() error { return ns.PutInt64(keyLastAirtime, s.LastAirtime.Microseconds()) },
	} {
		if err := put(); err != nil {
			return &measurement.PersistenceError{Op: "write " + SessionNamespace, Err: err}
		}
	}
	if err := ns.End(); err != nil {
		return &measurement.PersistenceError{Op: "commit " + SessionNamespace, Err: err}
	}
	return nil
}

// restore primes the duty cycle limiter from a stored session.
func (s Session) restore(dc *DutyCycle) {
	if !s.LastUplink.IsZero() {
		dc.Record(s.LastUplink, s.LastAirtime)
	}
}
