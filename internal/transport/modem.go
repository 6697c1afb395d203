// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// ModemOptions tune a Modem. Zero values select the defaults.
type ModemOptions struct {
	SpreadingFactor int           // for time-on-air accounting, default 9
	CommandTimeout  time.Duration // plain command replies, default 2s
	JoinTimeout     time.Duration // "accepted"/"denied" after a join, default 20s
	TxTimeout       time.Duration // end of both receive windows, default 20s
}

// Modem drives a LoRaWAN UART modem with the RN2483 command set:
//
//	sys get ver
//	mac join otaa|abp        -> ok, then accepted | denied
//	mac tx uncnf <port> <hex> -> ok, then mac_tx_ok | mac_rx <port> <hex> | mac_err
//	mac save                 -> ok
//
// The modem keeps its keys and counters itself after "mac save"; the
// session stored in prefs tells whether a join already succeeded.
type Modem struct {
	port  io.ReadWriteCloser
	store *prefs.Store
	log   *zap.SugaredLogger
	opts  ModemOptions
	dc    *DutyCycle
	now   func() time.Time

	lines chan string
	errc  chan error

	mu      sync.Mutex // serializes commands
	session Session
}

// OpenModem opens the serial port and wraps it in a Modem.
func OpenModem(portName string, baud uint, store *prefs.Store, log *zap.SugaredLogger, opts ModemOptions) (*Modem, error) {
	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", portName, err)
	}
	log.Infof("modem: serial port opened on %s at %d baud", portName, baud)
	return NewModem(port, store, log, opts), nil
}

// NewModem wraps an already open port.
func NewModem(port io.ReadWriteCloser, store *prefs.Store, log *zap.SugaredLogger, opts ModemOptions) *Modem {
	if opts.SpreadingFactor == 0 {
		opts.SpreadingFactor = 9
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 2 * time.Second
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = 20 * time.Second
	}
	if opts.TxTimeout == 0 {
		opts.TxTimeout = 20 * time.Second
	}
	m := &Modem{
		port:  port,
		store: store,
		log:   log,
		opts:  opts,
		dc:    NewDutyCycle(),
		now:   time.Now,
		lines: make(chan string, 16),
		errc:  make(chan error, 1),
	}
	go m.readLoop()
	return m
}

func (m *Modem) readLoop() {
	reader := bufio.NewReader(m.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			m.errc <- err
			close(m.lines)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m.lines <- line
	}
}

func (m *Modem) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line, ok := <-m.lines:
		if !ok {
			err := <-m.errc
			m.errc <- err
			return "", fmt.Errorf("modem: port closed: %w", err)
		}
		m.log.Debugf("modem: <- %s", line)
		return line, nil
	case <-t.C:
		return "", errors.New("modem: response timeout")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Modem) command(ctx context.Context, cmd string) (string, error) {
	m.drain()
	m.log.Debugf("modem: -> %s", cmd)
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return "", fmt.Errorf("modem: write %q: %w", cmd, err)
	}
	return m.readLine(ctx, m.opts.CommandTimeout)
}

// drain drops replies that arrived after an earlier timeout.
func (m *Modem) drain() {
	for {
		select {
		case line, ok := <-m.lines:
			if !ok {
				return
			}
			m.log.Debugf("modem: dropped stale %q", line)
		default:
			return
		}
	}
}

// Begin checks that the modem answers and joins the network. A previously
// joined session is resumed with "mac join abp" from the keys the modem
// saved; otherwise an OTAA join is attempted.
func (m *Modem) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, err := LoadSession(m.store); err != nil {
		m.log.Warnf("modem: %v, starting without session", err)
	} else {
		m.session = sess
		sess.restore(m.dc)
	}

	ver, err := m.command(ctx, "sys get ver")
	if err != nil {
		return &measurement.TransportError{Op: "begin", Err: err}
	}
	m.log.Infof("modem: %s", ver)

	mode := "otaa"
	if m.session.Activated {
		mode = "abp"
	}
	if err := m.join(ctx, mode); err != nil {
		m.session.Activated = false
		m.log.Warnf("modem: could not join network: %v", err)
		return nil
	}
	m.session.Activated = true
	m.log.Infof("modem: joined (%s)", mode)
	return nil
}

func (m *Modem) join(ctx context.Context, mode string) error {
	reply, err := m.command(ctx, "mac join "+mode)
	if err != nil {
		return &measurement.TransportError{Op: "join", Err: err}
	}
	if reply != "ok" {
		return &measurement.TransportError{Op: "join", Code: reply, Err: errors.New("join rejected by modem")}
	}
	status, err := m.readLine(ctx, m.opts.JoinTimeout)
	if err != nil {
		return &measurement.TransportError{Op: "join", Err: err}
	}
	if status != "accepted" {
		return &measurement.TransportError{Op: "join", Code: status, Err: errors.New("join not accepted")}
	}
	return nil
}

// IsActivated reports whether the last Begin left the modem joined.
func (m *Modem) IsActivated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Activated
}

// SetDutyCycle configures the airtime budget.
func (m *Modem) SetDutyCycle(enabled bool, msPerHour uint32) {
	m.dc.Set(enabled, msPerHour)
}

// SendReceive transmits an unconfirmed uplink and waits for both receive windows.
func (m *Modem) SendReceive(ctx context.Context, frame []byte, fport uint8) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	fail := func(code string, err error) Result {
		return Result{Outcome: SendFailed, Err: &measurement.TransportError{Op: "send", Code: code, Err: err}}
	}

	if !m.session.Activated {
		return fail("not_joined", errors.New("network not joined"))
	}
	if wait := m.dc.Until(); wait > 0 {
		return fail("duty_cycle", fmt.Errorf("next uplink allowed in %s", wait.Round(time.Second)))
	}

	cmd := fmt.Sprintf("mac tx uncnf %d %s", fport, strings.ToUpper(hex.EncodeToString(frame)))
	reply, err := m.command(ctx, cmd)
	if err != nil {
		return fail("", err)
	}
	if reply != "ok" {
		if reply == "not_joined" {
			m.session.Activated = false
		}
		return fail(reply, errors.New("uplink rejected by modem"))
	}

	sentAt := m.now()
	m.dc.Record(sentAt, TimeOnAir(m.opts.SpreadingFactor, len(frame)))
	m.session.FCntUp++

	status, err := m.readLine(ctx, m.opts.TxTimeout)
	if err != nil {
		return fail("", err)
	}
	switch {
	case status == "mac_tx_ok":
		return Result{Outcome: SentNoDownlink}
	case strings.HasPrefix(status, "mac_rx "):
		port, data, err := parseDownlink(status)
		if err != nil {
			return fail("mac_rx", err)
		}
		return Result{Outcome: SentWithDownlink, FPort: port, Downlink: data}
	default:
		return fail(status, errors.New("uplink failed"))
	}
}

// parseDownlink splits "mac_rx <port> <hex>".
func parseDownlink(line string) (uint8, []byte, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, nil, fmt.Errorf("malformed downlink %q", line)
	}
	port, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("downlink port: %w", err)
	}
	data, err := hex.DecodeString(fields[2])
	if err != nil {
		return 0, nil, fmt.Errorf("downlink data: %w", err)
	}
	return uint8(port), data, nil
}

// TimeUntilNextUplink returns the duty-cycle wait after the last uplink.
func (m *Modem) TimeUntilNextUplink() time.Duration {
	return m.dc.Until()
}

// SaveSession has the modem save its keys and counters, then stores the
// join state.
func (m *Modem) SaveSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Activated {
		reply, err := m.command(context.Background(), "mac save")
		if err != nil {
			return &measurement.TransportError{Op: "save", Err: err}
		}
		if reply != "ok" {
			return &measurement.TransportError{Op: "save", Code: reply, Err: errors.New("mac save failed")}
		}
	}

	m.session.LastUplink, m.session.LastAirtime = m.dc.Last()
	return SaveSession(m.store, m.session)
}

// Close releases the serial port.
func (m *Modem) Close() error {
	return m.port.Close()
}
