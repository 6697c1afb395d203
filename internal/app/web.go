package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/crack_monitor/internal/config"
)

// Dashboard keeps the latest uplink per device and pushes every new one to
// the connected websocket clients.
type Dashboard struct {
	log *zap.SugaredLogger

	mu     sync.RWMutex
	latest map[string]Observation

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]chan Observation
}

// NewDashboard returns an empty dashboard.
func NewDashboard(log *zap.SugaredLogger) *Dashboard {
	return &Dashboard{
		log:     log,
		latest:  make(map[string]Observation),
		clients: make(map[*websocket.Conn]chan Observation),
	}
}

// Observe records o and fans it out. Slow clients miss updates instead of
// blocking the subscriber.
func (d *Dashboard) Observe(o Observation) {
	d.mu.Lock()
	d.latest[o.DeviceID] = o
	d.mu.Unlock()

	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	for _, ch := range d.clients {
		select {
		case ch <- o:
		default:
		}
	}
}

// Latest returns the newest observation of every device, sorted by device.
func (d *Dashboard) Latest() []Observation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Observation, 0, len(d.latest))
	for _, o := range d.latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Handler serves /api/latest and /ws/uplinks.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest uplink per device, or one device with ?device=
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		var body any = d.Latest()
		if id := r.URL.Query().Get("device"); id != "" {
			d.mu.RLock()
			o, ok := d.latest[id]
			d.mu.RUnlock()
			if !ok {
				http.Error(w, "no data yet", http.StatusNotFound)
				return
			}
			body = o
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			d.log.Warnf("web: json encode error: %v", err)
		}
	})

	mux.HandleFunc("/ws/uplinks", d.handleUplinksWS)
	return mux
}

func (d *Dashboard) handleUplinksWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan Observation, 16)
	d.clientsMu.Lock()
	d.clients[conn] = ch
	d.clientsMu.Unlock()
	defer func() {
		d.clientsMu.Lock()
		delete(d.clients, conn)
		d.clientsMu.Unlock()
	}()

	// reader only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case o := <-ch:
			if err := conn.WriteJSON(o); err != nil {
				d.log.Debugf("web: websocket write error: %v", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// RunWeb subscribes to the uplink topic and serves the dashboard until ctx
// is done.
func RunWeb(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("web: MQTT_BROKER is required")
	}
	dash := NewDashboard(log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)
	client := mqtt.NewClient(opts)
	if err := subscribeUplinks(client, cfg.TopicUplinkSubscribe, log, dash.Observe); err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Infof("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	mux := http.NewServeMux()
	h := dash.Handler()
	mux.Handle("/api/", h)
	mux.Handle("/ws/", h)
	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("web: server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
