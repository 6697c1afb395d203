// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package prefs is a small namespaced key-value store persisted as a YAML
// file. It stands in for the non-volatile preferences partition of the
// microcontroller builds: values survive power loss, keys are grouped under a
// namespace, and a namespace is opened read-only or read-write.
//
// File layout:
//
//	crackMon:
//	  start_angle: 3012
//	  end_angle: 1870
//	  zero_pos: 24711
//	lorawan:
//	  activated: 1
package prefs

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrReadOnly is returned by Put* on a namespace opened read-only.
var ErrReadOnly = errors.New("prefs: namespace opened read-only")

// ErrClosed is returned when a namespace is used after End.
var ErrClosed = errors.New("prefs: namespace already ended")

type document map[string]map[string]any

// Store is one preferences file.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store backed by path. The file is created on the first write.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Begin opens a namespace. A missing file is an empty store, not an error; an
// unreadable or corrupt file is.
func (s *Store) Begin(namespace string, readOnly bool) (*Namespace, error) {
	if namespace == "" {
		return nil, errors.New("prefs: empty namespace")
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(doc[namespace]))
	for k, v := range doc[namespace] {
		values[k] = v
	}
	return &Namespace{
		store:    s,
		name:     namespace,
		readOnly: readOnly,
		values:   values,
	}, nil
}

func (s *Store) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}

	doc := document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("prefs: parse %s: %w", s.path, err)
	}
	return doc, nil
}

// commit merges one namespace into the file, leaving other namespaces as they are.
func (s *Store) commit(namespace string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	ns := make(map[string]any, len(values))
	for k, v := range values {
		ns[k] = v
	}
	doc[namespace] = ns

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	// Write to a sibling file and rename so a power cut never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefs: write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("prefs: replace %s: %w", s.path, err)
	}
	return nil
}

// Namespace is an open view of one namespace.
type Namespace struct {
	store    *Store
	name     string
	readOnly bool
	values   map[string]any
	dirty    bool
	ended    bool
}

// IsKey reports whether key has been stored.
func (n *Namespace) IsKey(key string) bool {
	_, ok := n.values[key]
	return ok
}

// GetInt returns the integer stored under key, or def.
func (n *Namespace) GetInt(key string, def int32) int32 {
	v, ok := n.int64(key)
	if !ok || v < math.MinInt32 || v > math.MaxInt32 {
		return def
	}
	return int32(v)
}

// GetInt64 returns the 64-bit integer stored under key, or def.
func (n *Namespace) GetInt64(key string, def int64) int64 {
	v, ok := n.int64(key)
	if !ok {
		return def
	}
	return v
}

func (n *Namespace) int64(key string) (int64, bool) {
	switch v := n.values[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// GetFloat returns the float stored under key, or def.
func (n *Namespace) GetFloat(key string, def float32) float32 {
	switch v := n.values[key].(type) {
	case float64:
		return float32(v)
	case int:
		return float32(v)
	case int64:
		return float32(v)
	default:
		return def
	}
}

// PutInt stores an integer.
func (n *Namespace) PutInt(key string, v int32) error {
	return n.put(key, int(v))
}

// PutInt64 stores a 64-bit integer.
func (n *Namespace) PutInt64(key string, v int64) error {
	return n.put(key, v)
}

// PutFloat stores a float.
func (n *Namespace) PutFloat(key string, v float32) error {
	return n.put(key, float64(v))
}

func (n *Namespace) put(key string, v any) error {
	if err := n.writable(); err != nil {
		return err
	}
	n.values[key] = v
	n.dirty = true
	return nil
}

func (n *Namespace) writable() error {
	if n.ended {
		return ErrClosed
	}
	if n.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Commit writes pending changes without ending the namespace.
func (n *Namespace) Commit() error {
	if n.ended {
		return ErrClosed
	}
	if !n.dirty {
		return nil
	}
	if err := n.store.commit(n.name, n.values); err != nil {
		return err
	}
	n.dirty = false
	return nil
}

// End commits pending changes and closes the namespace.
func (n *Namespace) End() error {
	if n.ended {
		return nil
	}
	err := n.Commit()
	n.ended = true
	return err
}
