// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/crack_monitor/internal/logging"
	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// rn2483 answers commands on the far end of a pipe from a script.
type rn2483 struct {
	conn    net.Conn
	replies map[string][]string

	mu   sync.Mutex
	seen []string
}

func (r *rn2483) serve() {
	reader := bufio.NewReader(r.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		r.mu.Lock()
		r.seen = append(r.seen, cmd)
		lines := r.replies[cmd]
		r.mu.Unlock()
		for _, l := range lines {
			if _, err := r.conn.Write([]byte(l + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (r *rn2483) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func newTestModem(t *testing.T, replies map[string][]string) (*Modem, *rn2483, *prefs.Store) {
	t.Helper()
	host, dev := net.Pipe()
	fake := &rn2483{conn: dev, replies: replies}
	go fake.serve()

	store := prefs.Open(filepath.Join(t.TempDir(), "nvs.yaml"))
	m := NewModem(host, store, logging.Nop(), ModemOptions{
		CommandTimeout: 500 * time.Millisecond,
		JoinTimeout:    500 * time.Millisecond,
		TxTimeout:      500 * time.Millisecond,
	})
	t.Cleanup(func() {
		m.Close()
		dev.Close()
	})
	return m, fake, store
}

var baseReplies = map[string][]string{
	"sys get ver":   {"RN2483 1.0.5 Oct 31 2018 15:06:52"},
	"mac join otaa": {"ok", "accepted"},
	"mac join abp":  {"ok", "accepted"},
	"mac save":      {"ok"},
}

func withReplies(extra map[string][]string) map[string][]string {
	out := map[string][]string{}
	for k, v := range baseReplies {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestModemJoinSendSave(t *testing.T) {
	m, fake, store := newTestModem(t, withReplies(map[string][]string{
		"mac tx uncnf 1 04D20929380834500800": {"ok", "mac_tx_ok"},
	}))
	ctx := context.Background()

	if err := m.Begin(ctx); err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if !m.IsActivated() {
		t.Fatal("expected modem to be joined")
	}
	m.SetDutyCycle(true, 1250)

	frame := []byte{0x04, 0xD2, 0x09, 0x29, 0x38, 0x08, 0x34, 0x50, 0x08, 0x00}
	res := m.SendReceive(ctx, frame, 1)
	if res.Outcome != SentNoDownlink || res.Err != nil {
		t.Fatalf("SendReceive() = %+v", res)
	}
	if wait := m.TimeUntilNextUplink(); wait < 9*time.Minute || wait > 10*time.Minute {
		t.Errorf("TimeUntilNextUplink() = %v, want ~9.9 min", wait)
	}

	if err := m.SaveSession(); err != nil {
		t.Fatalf("SaveSession() err=%v", err)
	}
	sess, err := LoadSession(store)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Activated || sess.FCntUp != 1 || sess.LastUplink.IsZero() {
		t.Errorf("stored session = %+v", sess)
	}

	want := []string{"sys get ver", "mac join otaa", "mac tx uncnf 1 04D20929380834500800", "mac save"}
	if got := fake.commands(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestModemResumesStoredSession(t *testing.T) {
	m, fake, store := newTestModem(t, baseReplies)
	if err := SaveSession(store, Session{Activated: true, FCntUp: 7}); err != nil {
		t.Fatal(err)
	}
	if err := m.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.IsActivated() {
		t.Fatal("expected resumed session")
	}
	if got := fake.commands(); got[len(got)-1] != "mac join abp" {
		t.Errorf("commands = %q, want abp resume", got)
	}
}

func TestModemJoinDenied(t *testing.T) {
	m, _, _ := newTestModem(t, withReplies(map[string][]string{
		"mac join otaa": {"ok", "denied"},
	}))
	if err := m.Begin(context.Background()); err != nil {
		t.Fatalf("a denied join is not a radio failure, err=%v", err)
	}
	if m.IsActivated() {
		t.Fatal("modem should not be activated")
	}
	res := m.SendReceive(context.Background(), []byte{1, 2, 3}, 1)
	var te *measurement.TransportError
	if res.Outcome != SendFailed || !errors.As(res.Err, &te) || te.Code != "not_joined" {
		t.Errorf("SendReceive() = %+v", res)
	}
}

func TestModemSilentIsBeginError(t *testing.T) {
	m, _, _ := newTestModem(t, map[string][]string{})
	err := m.Begin(context.Background())
	var te *measurement.TransportError
	if !errors.As(err, &te) || te.Op != "begin" {
		t.Fatalf("Begin() err=%v, want begin TransportError", err)
	}
}

func TestModemDownlink(t *testing.T) {
	m, _, _ := newTestModem(t, withReplies(map[string][]string{
		"mac tx uncnf 1 04D250": {"ok", "mac_rx 2 CAFE"},
	}))
	ctx := context.Background()
	if err := m.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	res := m.SendReceive(ctx, []byte{0x04, 0xD2, 0x50}, 1)
	if res.Outcome != SentWithDownlink || res.FPort != 2 || !bytes.Equal(res.Downlink, []byte{0xCA, 0xFE}) {
		t.Fatalf("SendReceive() = %+v", res)
	}
}

func TestModemSendErrors(t *testing.T) {
	cases := []struct {
		name    string
		replies []string
		code    string
	}{
		{"rejected", []string{"no_free_ch"}, "no_free_ch"},
		{"mac_err", []string{"ok", "mac_err"}, "mac_err"},
	}
	for _, tc := range cases {
		m, _, _ := newTestModem(t, withReplies(map[string][]string{
			"mac tx uncnf 1 0102": tc.replies,
		}))
		ctx := context.Background()
		if err := m.Begin(ctx); err != nil {
			t.Fatal(err)
		}
		m.SetDutyCycle(false, 0)
		res := m.SendReceive(ctx, []byte{1, 2}, 1)
		var te *measurement.TransportError
		if res.Outcome != SendFailed || !errors.As(res.Err, &te) || te.Code != tc.code {
			t.Errorf("%s: SendReceive() = %+v", tc.name, res)
		}
	}
}

func TestModemDutyCycleBlocksEarlyUplink(t *testing.T) {
	m, _, _ := newTestModem(t, withReplies(map[string][]string{
		"mac tx uncnf 1 0102": {"ok", "mac_tx_ok"},
	}))
	ctx := context.Background()
	if err := m.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if res := m.SendReceive(ctx, []byte{1, 2}, 1); res.Outcome != SentNoDownlink {
		t.Fatalf("first uplink: %+v", res)
	}
	res := m.SendReceive(ctx, []byte{1, 2}, 1)
	var te *measurement.TransportError
	if !errors.As(res.Err, &te) || te.Code != "duty_cycle" {
		t.Fatalf("second uplink: %+v, want duty_cycle error", res)
	}
}

func TestParseDownlink(t *testing.T) {
	if _, _, err := parseDownlink("mac_rx 1"); err == nil {
		t.Error("expected error for missing data")
	}
	if _, _, err := parseDownlink("mac_rx 300 00"); err == nil {
		t.Error("expected error for port out of range")
	}
	port, data, err := parseDownlink("mac_rx 10 00ff")
	if err != nil || port != 10 || !bytes.Equal(data, []byte{0x00, 0xFF}) {
		t.Errorf("parseDownlink() = %d % X %v", port, data, err)
	}
}
