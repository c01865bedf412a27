package iface

import (
	"context"
	"image"
	"image/color"
)

// Backend is the external classifier. Classify must not mutate model state.
type Backend interface {
	Init(modelPath string) (ModelInfo, error)
	Classify(features FeatureVector) (ClassificationResult, error)
	Shutdown()
}

type FrameSource interface {
	Open() error
	Configure(width, height int) error
	// Read returns ErrNoFrame when the device produced nothing this cycle.
	Read(ctx context.Context) (Frame, error)
	Close() error
}

type RenderSink interface {
	DrawRectangle(frame *Frame, rect image.Rectangle, c color.Color) error
	DrawText(frame *Frame, text string, pos image.Point, c color.Color) error
	Present(frame Frame) error
}
