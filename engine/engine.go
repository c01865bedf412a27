package engine

import (
	iface "EdgeScan/interface"
	"EdgeScan/logger"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

var ErrNotLoaded = errors.New("model not loaded")

func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	}
	return "unknown"
}

func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// tolerate CRLF and trailing blank lines
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Options override what the model reports about its input.
type Options struct {
	InputWidth  int
	InputHeight int
	ColorMode   iface.ColorMode
}

// Detector adapts tiles to the external classifier. It is safe for concurrent
// Classify calls once loaded; the backend is only read.
type Detector struct {
	ModelPath string
	Info      iface.ModelInfo

	backend  iface.Backend
	opts     Options
	mu       sync.RWMutex
	state    int
	inflight atomic.Int32
	log      *zap.Logger
}

func (d *Detector) New(backend iface.Backend, opts Options) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backend = backend
	d.opts = opts
	d.state = REGISTERED
	if d.log == nil {
		d.log = logger.Component("engine")
	}
	return d.backend != nil
}

func (d *Detector) SetLogger(l *zap.Logger) {
	d.log = l
}

// Load initializes the backend. Failure is an InitializationError.
func (d *Detector) Load(modelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend == nil {
		return &iface.InitializationError{Component: "classifier", Err: errors.New("detector not registered")}
	}
	info, err := d.backend.Init(modelPath)
	if err != nil {
		return &iface.InitializationError{Component: "classifier", Err: err}
	}
	if d.opts.InputWidth > 0 && d.opts.InputHeight > 0 {
		info.InputWidth, info.InputHeight = d.opts.InputWidth, d.opts.InputHeight
	}
	if d.opts.ColorMode != "" {
		info.ColorMode = d.opts.ColorMode
	}
	if info.ColorMode == "" {
		info.ColorMode = iface.ColorRGB
	}
	if info.Kind == 0 {
		info.Kind = iface.Labeled
	}
	d.ModelPath = modelPath
	d.Info = info
	d.state = IDLE
	d.log.Info("Model loaded",
		zap.String("name", info.Name),
		zap.String("owner", info.Owner),
		zap.Strings("labels", info.Labels),
		zap.Int("inputWidth", info.InputWidth),
		zap.Int("inputHeight", info.InputHeight),
		zap.String("colorMode", string(info.ColorMode)),
		zap.Stringer("kind", info.Kind))
	return nil
}

func (d *Detector) State() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state == IDLE && d.inflight.Load() > 0 {
		return BUSY
	}
	return d.state
}

func (d *Detector) ModelInfo() iface.ModelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Info
}

// EngineConfig is what the status surfaces report about the loaded model.
type EngineConfig struct {
	State       string          `json:"state"`
	ModelPath   string          `json:"modelPath"`
	Name        string          `json:"name"`
	Owner       string          `json:"owner"`
	InputWidth  int             `json:"inputWidth"`
	InputHeight int             `json:"inputHeight"`
	ColorMode   iface.ColorMode `json:"colorMode"`
	Kind        string          `json:"kind"`
	Labels      []string        `json:"labels"`
	Inflight    int             `json:"inflight"`
}

func (d *Detector) CheckConfig() EngineConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inflight := int(d.inflight.Load())
	state := d.state
	if state == IDLE && inflight > 0 {
		state = BUSY
	}
	return EngineConfig{
		State:       StateName(state),
		ModelPath:   d.ModelPath,
		Name:        d.Info.Name,
		Owner:       d.Info.Owner,
		InputWidth:  d.Info.InputWidth,
		InputHeight: d.Info.InputHeight,
		ColorMode:   d.Info.ColorMode,
		Kind:        d.Info.Kind.String(),
		Labels:      d.Info.Labels,
		Inflight:    inflight,
	}
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend != nil && d.state != UNREGISTERED {
		d.backend.Shutdown()
	}
	d.backend = nil
	d.ModelPath = ""
	d.Info = iface.ModelInfo{}
	d.state = UNREGISTERED
}

// Classify runs the backend on features extracted from window w. Errors come
// back as *iface.ClassificationError for that window only.
func (d *Detector) Classify(w iface.Window, features iface.FeatureVector) (res iface.ClassificationResult, err error) {
	d.mu.RLock()
	state, backend := d.state, d.backend
	d.mu.RUnlock()
	if state != IDLE {
		return res, &iface.ClassificationError{Window: w, Err: ErrNotLoaded}
	}
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = &iface.ClassificationError{Window: w, Err: fmt.Errorf("classifier panic: %v", r)}
		}
	}()
	res, err = backend.Classify(features)
	if err != nil {
		return res, &iface.ClassificationError{Window: w, Err: err}
	}
	switch res.Kind {
	case iface.Labeled, iface.Localized:
	default:
		return res, &iface.ClassificationError{Window: w, Err: fmt.Errorf("unknown result kind %d", res.Kind)}
	}
	return res, nil
}

// ClassifyWindow extracts window w from frame, classifies it and maps any
// boxes from model input space back into frame coordinates.
func (d *Detector) ClassifyWindow(frame iface.Frame, w iface.Window) (iface.ClassificationResult, error) {
	tile, err := frame.SubImage(w.Rect())
	if err != nil {
		return iface.ClassificationResult{}, &iface.ClassificationError{Window: w, Err: err}
	}
	info := d.ModelInfo()
	inW, inH := info.InputWidth, info.InputHeight
	if inW <= 0 || inH <= 0 {
		inW, inH = w.Width, w.Height
	}
	res, err := d.Classify(w, ExtractFeatures(tile, inW, inH, info.ColorMode))
	if err != nil {
		return res, err
	}
	if res.Kind == iface.Localized {
		res.Boxes = ToFrameSpace(res.Boxes, w, inW, inH)
	}
	return res, nil
}

// ToFrameSpace scales boxes from a inW×inH model input onto window w.
func ToFrameSpace(boxes []iface.Detection, w iface.Window, inW, inH int) []iface.Detection {
	if len(boxes) == 0 {
		return boxes
	}
	sx := float64(w.Width) / float64(inW)
	sy := float64(w.Height) / float64(inH)
	out := make([]iface.Detection, len(boxes))
	for i, b := range boxes {
		out[i] = iface.Detection{
			X:      w.X + int(math.Round(float64(b.X)*sx)),
			Y:      w.Y + int(math.Round(float64(b.Y)*sy)),
			Width:  int(math.Round(float64(b.Width) * sx)),
			Height: int(math.Round(float64(b.Height) * sy)),
			Label:  b.Label,
			Score:  b.Score,
		}
	}
	return out
}
