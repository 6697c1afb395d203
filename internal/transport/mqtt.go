// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
	"github.com/relabs-tech/crack_monitor/internal/payload"
	"github.com/relabs-tech/crack_monitor/internal/prefs"
)

// TTNUplink is the subset of a The Things Stack v3 uplink message the
// backend reads.
type TTNUplink struct {
	EndDeviceIDs  EndDeviceIDs  `json:"end_device_ids"`
	ReceivedAt    time.Time     `json:"received_at"`
	UplinkMessage UplinkMessage `json:"uplink_message"`
}

// EndDeviceIDs identifies the sender.
type EndDeviceIDs struct {
	DeviceID string `json:"device_id"`
}

// UplinkMessage carries the frame. FRMPayload is base64 on the wire.
type UplinkMessage struct {
	FPort          uint8           `json:"f_port"`
	FCnt           uint32          `json:"f_cnt"`
	FRMPayload     []byte          `json:"frm_payload"`
	DecodedPayload *payload.Uplink `json:"decoded_payload,omitempty"`
}

// BuildUplink renders the message published for one frame.
func BuildUplink(deviceID string, fport uint8, fcnt uint32, frame []byte, at time.Time) ([]byte, error) {
	msg := TTNUplink{
		EndDeviceIDs: EndDeviceIDs{DeviceID: deviceID},
		ReceivedAt:   at.UTC(),
		UplinkMessage: UplinkMessage{
			FPort:      fport,
			FCnt:       fcnt,
			FRMPayload: frame,
		},
	}
	if dec, err := payload.DecodeAny(frame); err == nil {
		msg.UplinkMessage.DecodedPayload = dec
	}
	return json.Marshal(msg)
}

// MQTTOptions configure the MQTT transport.
type MQTTOptions struct {
	DeviceID        string
	Topic           string // may contain one %s for the device ID
	SpreadingFactor int    // airtime is accounted as if sent over LoRa
	ConnectTimeout  time.Duration
}

// MQTT publishes frames as TTN-shaped uplink messages. It stands in for
// the radio on the bench and shares the duty-cycle bookkeeping.
type MQTT struct {
	client mqtt.Client
	store  *prefs.Store
	log    *zap.SugaredLogger
	opts   MQTTOptions
	dc     *DutyCycle
	now    func() time.Time

	mu      sync.Mutex
	session Session
}

// NewMQTTClient builds a paho client for broker.
func NewMQTTClient(broker, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second)
	return mqtt.NewClient(opts)
}

// NewMQTT wraps client.
func NewMQTT(client mqtt.Client, store *prefs.Store, log *zap.SugaredLogger, opts MQTTOptions) *MQTT {
	if opts.SpreadingFactor == 0 {
		opts.SpreadingFactor = 9
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &MQTT{
		client: client,
		store:  store,
		log:    log,
		opts:   opts,
		dc:     NewDutyCycle(),
		now:    time.Now,
	}
}

func (t *MQTT) topic() string {
	return fmt.Sprintf(t.opts.Topic, t.opts.DeviceID)
}

// Begin connects to the broker. A connection failure leaves the
// transport inactive; it is not an error of the radio.
func (t *MQTT) Begin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, err := LoadSession(t.store); err != nil {
		t.log.Warnf("mqtt transport: %v, starting without session", err)
	} else {
		t.session = sess
		sess.restore(t.dc)
	}

	if t.client.IsConnected() {
		t.session.Activated = true
		return nil
	}
	token := t.client.Connect()
	if !token.WaitTimeout(t.opts.ConnectTimeout) {
		t.session.Activated = false
		t.log.Warnf("mqtt transport: connect timed out")
		return nil
	}
	if err := token.Error(); err != nil {
		t.session.Activated = false
		t.log.Warnf("mqtt transport: connect failed: %v", err)
		return nil
	}
	t.session.Activated = true
	t.log.Infof("mqtt transport: connected, publishing to %s", t.topic())
	return nil
}

// IsActivated reports whether the broker connection is up.
func (t *MQTT) IsActivated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Activated && t.client.IsConnected()
}

// SetDutyCycle configures the airtime budget.
func (t *MQTT) SetDutyCycle(enabled bool, msPerHour uint32) {
	t.dc.Set(enabled, msPerHour)
}

// SendReceive publishes frame. MQTT has no downlink path here.
func (t *MQTT) SendReceive(ctx context.Context, frame []byte, fport uint8) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	fail := func(code string, err error) Result {
		return Result{Outcome: SendFailed, Err: &measurement.TransportError{Op: "send", Code: code, Err: err}}
	}
	if !t.session.Activated {
		return fail("not_connected", errors.New("broker not connected"))
	}
	if wait := t.dc.Until(); wait > 0 {
		return fail("duty_cycle", fmt.Errorf("next uplink allowed in %s", wait.Round(time.Second)))
	}

	at := t.now()
	body, err := BuildUplink(t.opts.DeviceID, fport, t.session.FCntUp, frame, at)
	if err != nil {
		return fail("encode", err)
	}
	token := t.client.Publish(t.topic(), 0, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fail("", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fail("publish", err)
	}

	t.dc.Record(at, TimeOnAir(t.opts.SpreadingFactor, len(frame)))
	t.session.FCntUp++
	return Result{Outcome: SentNoDownlink}
}

// TimeUntilNextUplink returns the duty-cycle wait after the last uplink.
func (t *MQTT) TimeUntilNextUplink() time.Duration {
	return t.dc.Until()
}

// SaveSession stores the frame counter and the last uplink.
func (t *MQTT) SaveSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.LastUplink, t.session.LastAirtime = t.dc.Last()
	return SaveSession(t.store, t.session)
}

// Close disconnects from the broker.
func (t *MQTT) Close() error {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}
