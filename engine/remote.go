package engine

import (
	iface "EdgeScan/interface"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const RemoteTimeout = 5 * time.Second

type projectInfo struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

type modelParameters struct {
	ImageInputWidth  int      `json:"image_input_width"`
	ImageInputHeight int      `json:"image_input_height"`
	ImageChannels    int      `json:"image_channel_count"`
	Labels           []string `json:"labels"`
	ModelType        string   `json:"model_type"`
}

type InitRequest struct {
	ModelPath string `json:"model_path"`
}

type InitResponse struct {
	Project         projectInfo     `json:"project"`
	ModelParameters modelParameters `json:"model_parameters"`
}

type ClassifyRequest struct {
	Features []float32 `json:"features"`
}

type remoteBox struct {
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

type ClassifyResponse struct {
	Result struct {
		Classification map[string]float64 `json:"classification"`
		BoundingBoxes  []remoteBox         `json:"bounding_boxes"`
	} `json:"result"`
	Timing struct {
		DSP            int `json:"dsp"`
		Classification int `json:"classification"`
	} `json:"timing"`
}

type remoteError struct {
	Error string `json:"error"`
}

// RemoteBackend talks to a model runner process over HTTP.
type RemoteBackend struct {
	BaseURL string

	client *resty.Client
	kind   iface.ResultKind
}

func NewRemoteBackend(baseURL string) *RemoteBackend {
	return &RemoteBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  resty.New().SetTimeout(RemoteTimeout),
	}
}

func (r *RemoteBackend) Init(modelPath string) (iface.ModelInfo, error) {
	var body InitResponse
	var failure remoteError
	resp, err := r.client.R().
		SetContext(context.Background()).
		SetHeader("Content-Type", "application/json").
		SetBody(InitRequest{ModelPath: modelPath}).
		SetResult(&body).
		SetError(&failure).
		Post(r.BaseURL + "/init")
	if err != nil {
		return iface.ModelInfo{}, fmt.Errorf("runner init request: %w", err)
	}
	if resp.IsError() {
		return iface.ModelInfo{}, fmt.Errorf("runner init: %s: %s", resp.Status(), failure.Error)
	}
	p := body.ModelParameters
	if p.ImageInputWidth <= 0 || p.ImageInputHeight <= 0 {
		return iface.ModelInfo{}, errors.New("runner reported no image input size")
	}
	mode := iface.ColorRGB
	if p.ImageChannels == 1 {
		mode = iface.ColorGrayscale
	}
	r.kind = iface.Labeled
	if p.ModelType == "object_detection" || p.ModelType == "constrained_object_detection" {
		r.kind = iface.Localized
	}
	return iface.ModelInfo{
		Name:        body.Project.Name,
		Owner:       body.Project.Owner,
		InputWidth:  p.ImageInputWidth,
		InputHeight: p.ImageInputHeight,
		ColorMode:   mode,
		Labels:      p.Labels,
		Kind:        r.kind,
	}, nil
}

func (r *RemoteBackend) Classify(features iface.FeatureVector) (iface.ClassificationResult, error) {
	var body ClassifyResponse
	var failure remoteError
	resp, err := r.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(ClassifyRequest{Features: features}).
		SetResult(&body).
		SetError(&failure).
		Post(r.BaseURL + "/classify")
	if err != nil {
		return iface.ClassificationResult{}, fmt.Errorf("runner classify request: %w", err)
	}
	if resp.IsError() {
		return iface.ClassificationResult{}, fmt.Errorf("runner classify: %s: %s", resp.Status(), failure.Error)
	}
	if body.Result.Classification != nil {
		return iface.LabeledResult(body.Result.Classification), nil
	}
	boxes := make([]iface.Detection, 0, len(body.Result.BoundingBoxes))
	for _, b := range body.Result.BoundingBoxes {
		boxes = append(boxes, iface.Detection{
			X: b.X, Y: b.Y, Width: b.Width, Height: b.Height,
			Label: b.Label, Score: b.Value,
		})
	}
	if r.kind == iface.Labeled && len(boxes) == 0 {
		return iface.ClassificationResult{}, errors.New("runner returned no result")
	}
	return iface.LocalizedResult(boxes), nil
}

func (r *RemoteBackend) Shutdown() {
	_, _ = r.client.R().Post(r.BaseURL + "/shutdown")
}
