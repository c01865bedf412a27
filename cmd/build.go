package cmd

import (
	adhoc "EdgeScan/Adhoc"
	"EdgeScan/capture"
	"EdgeScan/capture/device"
	"EdgeScan/config"
	"EdgeScan/engine"
	"EdgeScan/engine/dnn"
	iface "EdgeScan/interface"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// newDetector registers the configured backend and loads the model.
func newDetector(m config.Model, log *zap.Logger) (*engine.Detector, error) {
	var backend iface.Backend
	switch m.Backend {
	case "dnn":
		backend = &dnn.Backend{
			ConfigPath:  m.ConfigPath,
			LabelsPath:  m.LabelsPath,
			InputWidth:  m.InputWidth,
			InputHeight: m.InputHeight,
			ColorMode:   iface.ColorMode(strings.ToLower(m.ColorMode)),
			Detection:   m.Detection,
			Softmax:     m.Softmax,
		}
	case "remote":
		backend = engine.NewRemoteBackend(m.RunnerURL)
	default:
		return nil, iface.ConfigErrorf("model.backend", "unknown backend %q", m.Backend)
	}
	det := &engine.Detector{}
	det.SetLogger(log.Named("engine"))
	det.New(backend, engine.Options{
		InputWidth:  m.InputWidth,
		InputHeight: m.InputHeight,
		ColorMode:   iface.ColorMode(strings.ToLower(m.ColorMode)),
	})
	if err := det.Load(m.Path); err != nil {
		return nil, err
	}
	return det, nil
}

// newSource picks the replay source when a directory is configured and the
// camera otherwise.
func newSource(c config.Capture) iface.FrameSource {
	if c.ReplayDir != "" {
		return capture.NewReplay(c.ReplayDir, c.Loop)
	}
	return device.New(c.Device)
}

func instanceClass(c config.Config) int {
	switch strings.ToLower(c.Registry.InstanceClass) {
	case "replay":
		return adhoc.ReplayInstance
	case "camera":
		return adhoc.CameraInstance
	}
	if c.Capture.ReplayDir != "" {
		return adhoc.ReplayInstance
	}
	return adhoc.CameraInstance
}

// GetOutboundIP returns the local address of the default route. No packet
// is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}
