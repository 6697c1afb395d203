package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/config"
	"github.com/relabs-tech/crack_monitor/internal/payload"
	"github.com/relabs-tech/crack_monitor/internal/transport"
)

// Observation is one decoded uplink as seen by the backend.
type Observation struct {
	DeviceID   string          `json:"device_id"`
	ReceivedAt time.Time       `json:"received_at"`
	FPort      uint8           `json:"f_port"`
	FCnt       uint32          `json:"f_cnt"`
	Frame      []byte          `json:"frame"`
	Uplink     *payload.Uplink `json:"uplink"`
}

// ParseUplink decodes a TTN-shaped uplink message and its frame.
func ParseUplink(data []byte) (Observation, error) {
	var msg transport.TTNUplink
	if err := json.Unmarshal(data, &msg); err != nil {
		return Observation{}, fmt.Errorf("uplink unmarshal: %w", err)
	}
	up, err := payload.DecodeAny(msg.UplinkMessage.FRMPayload)
	if err != nil {
		return Observation{}, fmt.Errorf("uplink from %s: %w", msg.EndDeviceIDs.DeviceID, err)
	}
	return Observation{
		DeviceID:   msg.EndDeviceIDs.DeviceID,
		ReceivedAt: msg.ReceivedAt,
		FPort:      msg.UplinkMessage.FPort,
		FCnt:       msg.UplinkMessage.FCnt,
		Frame:      msg.UplinkMessage.FRMPayload,
		Uplink:     up,
	}, nil
}

// FormatObservation renders one console line. Missing values print as "-".
func FormatObservation(o Observation) string {
	u := o.Uplink
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] fcnt=%d %s pos=%s", o.DeviceID, o.FCnt, u.Variant, fmtFloat(u.Pos, "%.3fmm"))
	if u.TempExt != nil || u.HumExt != nil || u.TempPCB != nil {
		fmt.Fprintf(&b, " ext=%s/%s pcb=%s",
			fmtFloat(u.TempExt, "%.2f°C"), fmtFloat(u.HumExt, "%.0f%%"), fmtFloat(u.TempPCB, "%.2f°C"))
	}
	fmt.Fprintf(&b, " bat=%s", fmtInt(u.Battery, "%d%%"))
	if u.Angle != nil {
		fmt.Fprintf(&b, " angle=%d", *u.Angle)
	}
	return b.String()
}

func fmtFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func fmtInt(v *int, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

// subscribeUplinks connects client and delivers every decodable uplink on
// topic to handle.
func subscribeUplinks(client mqtt.Client, topic string, log *zap.SugaredLogger, handle func(Observation)) error {
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		o, err := ParseUplink(msg.Payload())
		if err != nil {
			log.Warnf("uplinks: %s: %v", msg.Topic(), err)
			return
		}
		handle(o)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Infof("uplinks: subscribed to %s", topic)
	return nil
}

// RunUplinkConsole prints one line per uplink until ctx is done.
func RunUplinkConsole(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("console: MQTT_BROKER is required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)
	client := mqtt.NewClient(opts)

	err := subscribeUplinks(client, cfg.TopicUplinkSubscribe, log, func(o Observation) {
		fmt.Println(FormatObservation(o))
	})
	if err != nil {
		return err
	}
	log.Infof("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	<-ctx.Done()

	log.Infof("console: shutting down")
	client.Disconnect(250)
	return nil
}
