// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package prefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMissingFileIsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nvs.yaml"))
	ns, err := s.Begin("crackMon", true)
	if err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if ns.IsKey("start_angle") {
		t.Fatalf("expected no start_angle in empty store")
	}
	if got := ns.GetInt("start_angle", 7); got != 7 {
		t.Fatalf("GetInt default = %d, want 7", got)
	}
}

func TestRoundTripAcrossNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.yaml")
	s := Open(path)

	cal, err := s.Begin("crackMon", false)
	if err != nil {
		t.Fatalf("Begin() err=%v", err)
	}
	if err := cal.PutInt("start_angle", 4000); err != nil {
		t.Fatal(err)
	}
	if err := cal.PutInt("zero_pos", -1234); err != nil {
		t.Fatal(err)
	}
	if err := cal.PutFloat("dial_zero", 1.25); err != nil {
		t.Fatal(err)
	}
	if err := cal.End(); err != nil {
		t.Fatalf("End() err=%v", err)
	}

	sess, err := s.Begin("lorawan", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.PutInt64("last_uplink_ms", 1760000000123); err != nil {
		t.Fatal(err)
	}
	if err := sess.End(); err != nil {
		t.Fatal(err)
	}

	// fresh store object, same file
	again := Open(path)
	cal2, err := again.Begin("crackMon", true)
	if err != nil {
		t.Fatal(err)
	}
	if got := cal2.GetInt("start_angle", 0); got != 4000 {
		t.Errorf("start_angle = %d, want 4000", got)
	}
	if got := cal2.GetInt("zero_pos", 0); got != -1234 {
		t.Errorf("zero_pos = %d, want -1234", got)
	}
	if got := cal2.GetFloat("dial_zero", 0); got != 1.25 {
		t.Errorf("dial_zero = %v, want 1.25", got)
	}
	sess2, err := again.Begin("lorawan", true)
	if err != nil {
		t.Fatal(err)
	}
	if got := sess2.GetInt64("last_uplink_ms", 0); got != 1760000000123 {
		t.Errorf("last_uplink_ms = %d", got)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nvs.yaml"))
	ns, err := s.Begin("crackMon", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := ns.PutInt("zero_pos", 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("PutInt on read-only err=%v, want ErrReadOnly", err)
	}
}

func TestCorruptFileFailsBegin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.yaml")
	if err := os.WriteFile(path, []byte("crackMon: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path).Begin("crackMon", true); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCommitToMissingDirectoryFails(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing", "nvs.yaml"))
	ns, err := s.Begin("crackMon", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := ns.PutInt("zero_pos", 1); err != nil {
		t.Fatal(err)
	}
	if err := ns.End(); err == nil {
		t.Fatalf("expected write error")
	}
}
