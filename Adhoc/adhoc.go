// Package Adhoc announces this pipeline node to a registration server.
package Adhoc

import (
	"EdgeScan/pipeline"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CameraInstance = 0x3001
	ReplayInstance = 0x3002
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id            string  `json:"id"`
	IP            string  `json:"ip"`
	Port          int     `json:"port"`
	InstanceClass int     `json:"instanceClass"`
	TimeStamp     int64   `json:"timestamp"`
	State         string  `json:"state"`
	Model         string  `json:"model"`
	FPS           float64 `json:"fps"`
	Frames        uint64  `json:"frames"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Registrar sends a heartbeat with the pipeline state every Interval.
type Registrar struct {
	Id            string
	URL           string
	IP            string
	Port          int
	InstanceClass int
	Model         string
	Interval      time.Duration
	Stats         func() pipeline.Stats

	client *resty.Client
	log    *zap.Logger
}

func NewRegistrar(server RegServerConfig, ip string, port int, instanceClass int, log *zap.Logger) *Registrar {
	return &Registrar{
		Id:            uuid.NewString(),
		URL:           server.URL(),
		IP:            ip,
		Port:          port,
		InstanceClass: instanceClass,
		Interval:      TimeOutSeconds * time.Second,
		client:        resty.New().SetTimeout(TimeOutSeconds * time.Second),
		log:           log.Named("adhoc"),
	}
}

// SendAliveMessage posts one heartbeat.
func (r *Registrar) SendAliveMessage(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("heartbeat panic recovered: %v", p)
		}
	}()
	reqBody := RegisterRequest{
		Id:            r.Id,
		IP:            r.IP,
		Port:          r.Port,
		InstanceClass: r.InstanceClass,
		TimeStamp:     time.Now().Unix(),
		Model:         r.Model,
	}
	if r.Stats != nil {
		s := r.Stats()
		reqBody.State = s.State
		reqBody.FPS = s.SmoothedFPS
		reqBody.Frames = s.Frames
	}
	var respBody RegisterResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(r.URL)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", r.Id)
	}
	return nil
}

// Run sends heartbeats until ctx is done. Failures are logged and retried on
// the next tick.
func (r *Registrar) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	beat := func() {
		if err := r.SendAliveMessage(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("Heartbeat failed", zap.String("url", r.URL), zap.Error(err))
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			beat()
		}
	}
}
