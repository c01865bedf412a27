// Package dnn runs models through the OpenCV dnn module.
package dnn

import (
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ssd output rows are [batch, class, confidence, x1, y1, x2, y2], normalized.
const ssdRowLen = 7

type Backend struct {
	ConfigPath  string
	LabelsPath  string
	InputWidth  int
	InputHeight int
	ColorMode   iface.ColorMode
	// Detection selects the SSD box decoder instead of a score vector.
	Detection bool
	// Softmax is applied to raw classification logits.
	Softmax bool

	mu     sync.Mutex
	net    gocv.Net
	labels []string
	loaded bool
}

func (b *Backend) Init(modelPath string) (iface.ModelInfo, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return iface.ModelInfo{}, fmt.Errorf("model file: %w", err)
	}
	if b.ConfigPath != "" {
		if _, err := os.Stat(b.ConfigPath); err != nil {
			return iface.ModelInfo{}, fmt.Errorf("model config file: %w", err)
		}
	}
	if b.InputWidth <= 0 || b.InputHeight <= 0 {
		return iface.ModelInfo{}, errors.New("model input size must be set")
	}
	var labels []string
	if b.LabelsPath != "" {
		l, err := engine.ReadLinesReadFile(b.LabelsPath)
		if err != nil {
			return iface.ModelInfo{}, fmt.Errorf("labels file: %w", err)
		}
		labels = l
	}

	net := gocv.ReadNet(modelPath, b.ConfigPath)
	if net.Empty() {
		return iface.ModelInfo{}, fmt.Errorf("failed to load network from %s", modelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return iface.ModelInfo{}, errors.New("failed to set preferable backend or target")
	}

	b.mu.Lock()
	b.net = net
	b.labels = labels
	b.loaded = true
	b.mu.Unlock()

	mode := b.ColorMode
	if mode == "" {
		mode = iface.ColorRGB
	}
	kind := iface.Labeled
	if b.Detection {
		kind = iface.Localized
	}
	return iface.ModelInfo{
		Name:        strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		Owner:       "local",
		InputWidth:  b.InputWidth,
		InputHeight: b.InputHeight,
		ColorMode:   mode,
		Labels:      labels,
		Kind:        kind,
	}, nil
}

// Classify serializes access to the net; cv::dnn::Net is not reentrant.
func (b *Backend) Classify(features iface.FeatureVector) (iface.ClassificationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return iface.ClassificationResult{}, errors.New("network not loaded")
	}
	mat, err := b.featureMat(features)
	if err != nil {
		return iface.ClassificationResult{}, err
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(b.InputWidth, b.InputHeight), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()
	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return iface.ClassificationResult{}, errors.New("empty network output")
	}

	if b.Detection {
		return iface.LocalizedResult(b.decodeSSD(out)), nil
	}
	return iface.LabeledResult(b.decodeScores(out)), nil
}

func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		b.net.Close()
		b.loaded = false
	}
}

// featureMat turns [0,1] features back into an 8-bit image Mat of the input size.
func (b *Backend) featureMat(features iface.FeatureVector) (gocv.Mat, error) {
	channels := b.ColorMode.Channels()
	want := b.InputWidth * b.InputHeight * channels
	if len(features) != want {
		return gocv.Mat{}, fmt.Errorf("feature length %d, want %d", len(features), want)
	}
	data := make([]byte, len(features))
	for i, v := range features {
		data[i] = uint8(math.Round(math.Max(0, math.Min(1, float64(v))) * 255))
	}
	matType := gocv.MatTypeCV8UC3
	if channels == 1 {
		matType = gocv.MatTypeCV8UC1
	}
	return gocv.NewMatFromBytes(b.InputHeight, b.InputWidth, matType, data)
}

func (b *Backend) decodeScores(out gocv.Mat) map[string]float64 {
	flat := out.Reshape(1, 1)
	defer flat.Close()
	n := flat.Cols()
	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		raw[i] = float64(flat.GetFloatAt(0, i))
	}
	if b.Softmax {
		raw = softmax(raw)
	}
	scores := make(map[string]float64, n)
	for i, v := range raw {
		scores[b.label(i)] = v
	}
	return scores
}

func (b *Backend) decodeSSD(out gocv.Mat) []iface.Detection {
	rows := out.Reshape(1, out.Total()/ssdRowLen)
	defer rows.Close()
	var boxes []iface.Detection
	w, h := float32(b.InputWidth), float32(b.InputHeight)
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence <= 0 {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		x1 := int(rows.GetFloatAt(i, 3) * w)
		y1 := int(rows.GetFloatAt(i, 4) * h)
		x2 := int(rows.GetFloatAt(i, 5) * w)
		y2 := int(rows.GetFloatAt(i, 6) * h)
		boxes = append(boxes, iface.Detection{
			X:      x1,
			Y:      y1,
			Width:  x2 - x1,
			Height: y2 - y1,
			Label:  b.label(classID),
			Score:  float64(confidence),
		})
	}
	return boxes
}

func (b *Backend) label(i int) string {
	if i >= 0 && i < len(b.labels) {
		return b.labels[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func softmax(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	maxV := v[0]
	for _, x := range v[1:] {
		maxV = math.Max(maxV, x)
	}
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = math.Exp(x - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
