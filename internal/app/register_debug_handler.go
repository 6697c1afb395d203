// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/crack_monitor/internal/config"
	"github.com/relabs-tech/crack_monitor/internal/sensors"
)

// RegisterDevice is one chip reachable through the register inspector.
type RegisterDevice struct {
	Addr      uint16
	Registers []sensors.RegisterInfo
}

// RegisterDebugServer exposes raw register access to the sensors on one
// I²C bus over a websocket.
type RegisterDebugServer struct {
	Bus     i2c.Bus
	Devices map[string]RegisterDevice
	Log     *zap.SugaredLogger

	busMu sync.Mutex
}

// RegisterCmd is a request from the browser.
type RegisterCmd struct {
	Action  string `json:"action"` // "get_map", "read", "read_all", "write", "export_config"
	Device  string `json:"device"` // "as5600" or "mcp9808"
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is sent back for every command.
type RegisterResponse struct {
	Type        string                 `json:"type"` // "register_data", "register_map", "config", "error"
	Device      string                 `json:"device,omitempty"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      *RegisterConfigFile    `json:"config,omitempty"`
}

// RegisterConfigFile is the exported snapshot of the writable registers.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	Device    string            `json:"device"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// NewRegisterDebugServer serves the AS5600 and MCP9808 at the configured
// addresses.
func NewRegisterDebugServer(bus i2c.Bus, cfg *config.Config, log *zap.SugaredLogger) *RegisterDebugServer {
	return &RegisterDebugServer{
		Bus: bus,
		Devices: map[string]RegisterDevice{
			"as5600":  {Addr: cfg.AS5600Addr, Registers: sensors.AS5600Registers()},
			"mcp9808": {Addr: cfg.MCP9808Addr, Registers: sensors.MCP9808Registers()},
		},
		Log: log,
	}
}

// HandleRegisterDebugWS handles one browser session.
func (s *RegisterDebugServer) HandleRegisterDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Log.Warnf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(s.Execute(cmd)); err != nil {
			s.Log.Debugf("register_debug: write error: %v", err)
			return
		}
	}
}

// Execute runs one command against the bus.
func (s *RegisterDebugServer) Execute(cmd RegisterCmd) RegisterResponse {
	dev, ok := s.Devices[cmd.Device]
	if !ok {
		return errorResponse(fmt.Errorf("unknown device %q", cmd.Device))
	}
	resp := RegisterResponse{Device: cmd.Device, Timestamp: time.Now().Format(time.RFC3339)}

	switch cmd.Action {
	case "get_map":
		resp.Type = "register_map"
		resp.RegisterMap = dev.Registers
	case "read":
		reg, err := lookupRegister(dev, cmd.Address)
		if err != nil {
			return errorResponse(err)
		}
		v, err := s.read(dev, cmd.Device, reg)
		if err != nil {
			return errorResponse(err)
		}
		resp.Type = "register_data"
		resp.Address = hexByte(reg.Address)
		resp.Value = hexValue(reg, v)
	case "read_all":
		regs, err := s.readAll(dev, cmd.Device, false)
		if err != nil {
			return errorResponse(err)
		}
		resp.Type = "register_data"
		resp.Registers = regs
	case "write":
		reg, err := lookupRegister(dev, cmd.Address)
		if err != nil {
			return errorResponse(err)
		}
		v, err := strconv.ParseUint(cmd.Value, 0, 16)
		if err != nil {
			return errorResponse(fmt.Errorf("invalid value format: %s", cmd.Value))
		}
		s.busMu.Lock()
		err = sensors.WriteRegister(s.Bus, dev.Addr, cmd.Device, reg, uint16(v))
		s.busMu.Unlock()
		if err != nil {
			return errorResponse(err)
		}
		s.Log.Infof("register_debug: %s %s <- %s", cmd.Device, reg.Name, hexValue(reg, uint16(v)))
		resp.Type = "register_data"
		resp.Address = hexByte(reg.Address)
		resp.Value = hexValue(reg, uint16(v))
		resp.Message = "write successful"
	case "export_config":
		regs, err := s.readAll(dev, cmd.Device, true)
		if err != nil {
			return errorResponse(err)
		}
		resp.Type = "config"
		resp.Config = &RegisterConfigFile{Version: 1, Device: cmd.Device, Timestamp: resp.Timestamp, Registers: regs}
	default:
		return errorResponse(fmt.Errorf("unknown action: %s", cmd.Action))
	}
	return resp
}

func (s *RegisterDebugServer) read(dev RegisterDevice, name string, reg sensors.RegisterInfo) (uint16, error) {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return sensors.ReadRegister(s.Bus, dev.Addr, name, reg)
}

// readAll stops at the first failing register; a missing chip fails them all.
func (s *RegisterDebugServer) readAll(dev RegisterDevice, name string, writableOnly bool) (map[string]string, error) {
	out := make(map[string]string)
	for _, reg := range dev.Registers {
		if writableOnly && !reg.Writable() {
			continue
		}
		v, err := s.read(dev, name, reg)
		if err != nil {
			return nil, err
		}
		out[hexByte(reg.Address)] = hexValue(reg, v)
	}
	return out, nil
}

func lookupRegister(dev RegisterDevice, addr string) (sensors.RegisterInfo, error) {
	if addr == "" {
		return sensors.RegisterInfo{}, errors.New("missing addr field")
	}
	a, err := strconv.ParseUint(addr, 0, 8)
	if err != nil {
		return sensors.RegisterInfo{}, fmt.Errorf("invalid address format: %s", addr)
	}
	reg, ok := sensors.FindRegister(dev.Registers, uint8(a))
	if !ok {
		return sensors.RegisterInfo{}, fmt.Errorf("register 0x%02X is not in the register map", a)
	}
	return reg, nil
}

func hexByte(b uint8) string { return fmt.Sprintf("0x%02X", b) }

func hexValue(reg sensors.RegisterInfo, v uint16) string {
	if reg.Width == 1 {
		return fmt.Sprintf("0x%02X", v)
	}
	return fmt.Sprintf("0x%04X", v)
}

func errorResponse(err error) RegisterResponse {
	return RegisterResponse{Type: "error", Message: err.Error()}
}

// DeviceNames lists the inspected devices, sorted.
func (s *RegisterDebugServer) DeviceNames() []string {
	names := make([]string, 0, len(s.Devices))
	for n := range s.Devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunRegisterDebug opens the configured bus and serves the inspector until
// ctx is done.
func RunRegisterDebug(ctx context.Context, log *zap.SugaredLogger, port int) error {
	cfg := config.Get()
	bus, err := sensors.OpenBus(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	s := NewRegisterDebugServer(bus, cfg, log)
	for _, n := range s.DeviceNames() {
		log.Infof("register_debug: %s at 0x%02X", n, s.Devices[n].Addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleRegisterDebugWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/register_debug.html")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("register_debug: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
