// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/calibration"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// ConsoleTrigger advances calibration steps on ENTER.
type ConsoleTrigger struct {
	lines chan error
}

// NewConsoleTrigger reads lines from r until it is exhausted.
func NewConsoleTrigger(r io.Reader) *ConsoleTrigger {
	t := &ConsoleTrigger{lines: make(chan error)}
	go func() {
		br := bufio.NewReader(r)
		for {
			_, err := br.ReadString('\n')
			t.lines <- err
			if err != nil {
				close(t.lines)
				return
			}
		}
	}()
	return t
}

// WaitRelease returns immediately; a keyboard has nothing to release.
func (t *ConsoleTrigger) WaitRelease(ctx context.Context) error { return ctx.Err() }

// WaitPress blocks until the next line.
func (t *ConsoleTrigger) WaitPress(ctx context.Context) error {
	select {
	case err, ok := <-t.lines:
		if !ok || err != nil {
			return errors.New("console closed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WebSocket message types
type WSMessage struct {
	Action string `json:"action"` // start, next, cancel
}

type WSResponse struct {
	Type    string              `json:"type"` // step, captured, complete, error
	Message string              `json:"message,omitempty"`
	Results *calibration.Record `json:"results,omitempty"`
}

// CalibrationServer runs the rotary calibration from a browser. Only one
// session runs at a time.
type CalibrationServer struct {
	Store   *prefs.Store
	Angle   calibration.AngleSource
	Options calibration.Options
	Log     *zap.SugaredLogger

	mu     sync.Mutex
	active bool
}

// CalibrationSession is one websocket client driving a calibration.
type CalibrationSession struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	writeMu sync.Mutex
	next    chan struct{}
}

// wsTrigger turns "next" messages into button presses.
type wsTrigger struct{ next <-chan struct{} }

func (t wsTrigger) WaitRelease(ctx context.Context) error { return ctx.Err() }

func (t wsTrigger) WaitPress(ctx context.Context) error {
	select {
	case <-t.next:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleCalibrationWS handles the WebSocket connection for calibration
func (cs *CalibrationServer) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cs.Log.Warnf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &CalibrationSession{
		conn: conn,
		log:  cs.Log,
		next: make(chan struct{}, 1),
	}

	// cancel runs before Wait so a blocked step returns
	var running sync.WaitGroup
	defer running.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			cs.Log.Debugf("calibration: websocket read error: %v", err)
			return
		}

		switch msg.Action {
		case "start":
			if !cs.acquire() {
				session.send(WSResponse{Type: "error", Message: "calibration already running"})
				continue
			}
			running.Add(1)
			go func() {
				defer running.Done()
				defer cs.release()
				cs.run(ctx, session)
			}()

		case "next":
			select {
			case session.next <- struct{}{}:
			default:
			}

		case "cancel":
			cs.Log.Infof("calibration: cancelled by user")
			cancel()
			return

		default:
			session.send(WSResponse{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)})
		}
	}
}

func (cs *CalibrationServer) acquire() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.active {
		return false
	}
	cs.active = true
	return true
}

func (cs *CalibrationServer) release() {
	cs.mu.Lock()
	cs.active = false
	cs.mu.Unlock()
}

func (cs *CalibrationServer) run(ctx context.Context, s *CalibrationSession) {
	opts := cs.Options
	opts.Announce = s.announce
	cal := calibration.NewCalibrator(cs.Store, cs.Angle, cs.Log, opts)
	if _, err := cal.Load(); err != nil {
		cs.Log.Warnf("calibration: %v", err)
	}

	if err := cal.Run(ctx, wsTrigger{next: s.next}); err != nil {
		if ctx.Err() == nil {
			s.send(WSResponse{Type: "error", Message: err.Error()})
		}
		return
	}
	rec := cal.Record()
	cs.Log.Infof("calibration: stored %+v", rec)
	s.send(WSResponse{Type: "complete", Results: &rec})
}

// announce forwards calibrator messages: prompts become "step", captured
// values become "captured".
func (s *CalibrationSession) announce(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	s.log.Infof("calibration: %s", text)

	typ := "step"
	if strings.HasPrefix(text, "New ") {
		typ = "captured"
	}
	s.send(WSResponse{Type: typ, Message: text})
}

func (s *CalibrationSession) send(resp WSResponse) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(resp); err != nil {
		s.log.Debugf("calibration: websocket write error: %v", err)
	}
}
