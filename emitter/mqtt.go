// Package emitter publishes pipeline results to external consumers.
package emitter

import (
	"EdgeScan/config"
	"EdgeScan/pipeline"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	ConnectTimeout = 5 * time.Second
	PublishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes every result as JSON to one topic.
type MQTTEmitter struct {
	cfg    config.MQTT
	log    *zap.Logger
	Client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func NewMQTTEmitter(cfg config.MQTT, log *zap.Logger) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, log: log.Named("mqtt")}
}

func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.log.Info("MQTT connection established", zap.String("broker", e.cfg.Broker), zap.String("clientId", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn("MQTT connection lost, will auto-reconnect", zap.String("broker", e.cfg.Broker), zap.Error(err))
	}

	e.Client = mqtt.NewClient(opts)
	e.pub = e.Client
	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

type message struct {
	RunID      string      `json:"runId"`
	Seq        uint64      `json:"seq"`
	Timestamp  time.Time   `json:"timestamp"`
	Mode       string      `json:"mode"`
	FPS        float64     `json:"fps"`
	Windows    int         `json:"windows"`
	Failed     int         `json:"failed"`
	Detections interface{} `json:"detections"`
}

func (e *MQTTEmitter) Emit(_ context.Context, r pipeline.Result) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}
	dets := interface{}(r.Detections)
	if r.Detections == nil {
		dets = []struct{}{}
	}
	payload, err := json.Marshal(message{
		RunID:      r.RunID,
		Seq:        r.Seq,
		Timestamp:  r.Timestamp,
		Mode:       string(r.Mode),
		FPS:        r.FPS,
		Windows:    r.Windows,
		Failed:     r.Failed,
		Detections: dets,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	token := e.pub.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	e.log.Debug("Result published", zap.String("topic", e.cfg.Topic), zap.Uint64("seq", r.Seq), zap.Int("size", len(payload)))
	return nil
}

// Close disconnects with a 250ms grace period.
func (e *MQTTEmitter) Close() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.log.Info("MQTT disconnected")
	}
	e.setConnected(false)
	return nil
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
