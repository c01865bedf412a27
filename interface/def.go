package iface

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

const RGBChannels = 3

// Frame is one captured image, interleaved RGB, row stride Width*Channels.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Channels  int
	Pix       []byte
}

func NewFrame(width, height int) Frame {
	return Frame{
		Width:    width,
		Height:   height,
		Channels: RGBChannels,
		Pix:      make([]byte, width*height*RGBChannels),
	}
}

func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Check reports a frame whose buffer does not match its header. The error
// wraps ErrNoFrame so callers treat it as a skipped frame.
func (f Frame) Check() error {
	if f.Empty() {
		return ErrNoFrame
	}
	if f.Channels != RGBChannels {
		return fmt.Errorf("%w: %d channels, want %d", ErrNoFrame, f.Channels, RGBChannels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("%w: %dx%d frame has %d bytes, want %d", ErrNoFrame, f.Width, f.Height, len(f.Pix), want)
	}
	return nil
}

func (f Frame) Stride() int {
	return f.Width * f.Channels
}

// SubImage copies the pixels under rect into a new frame.
func (f Frame) SubImage(r image.Rectangle) (Frame, error) {
	if err := f.Check(); err != nil {
		return Frame{}, err
	}
	if !r.In(image.Rect(0, 0, f.Width, f.Height)) {
		return Frame{}, fmt.Errorf("rect %v outside frame %dx%d", r, f.Width, f.Height)
	}
	out := Frame{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     r.Dx(),
		Height:    r.Dy(),
		Channels:  f.Channels,
	}
	out.Pix = make([]byte, out.Width*out.Height*out.Channels)
	rowLen := out.Width * f.Channels
	for y := 0; y < out.Height; y++ {
		src := (r.Min.Y+y)*f.Stride() + r.Min.X*f.Channels
		copy(out.Pix[y*rowLen:(y+1)*rowLen], f.Pix[src:src+rowLen])
	}
	return out, nil
}

// ToImage returns an NRGBA copy of the frame. A frame that fails Check
// comes back as a blank image of its nominal size.
func (f Frame) ToImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	if f.Check() != nil {
		return img
	}
	for i, j := 0, 0; i < len(f.Pix); i, j = i+f.Channels, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FrameFromImage copies any image into an RGB frame anchored at (0, 0).
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < f.Height; y++ {
			row := nrgba.Pix[nrgba.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < f.Width; x++ {
				copy(f.Pix[(y*f.Width+x)*3:], row[x*4:x*4+3])
			}
		}
		return f
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*f.Width + x) * 3
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
		}
	}
	return f
}

// Window is one scan tile in normalized frame coordinates.
type Window struct {
	Index  int
	X      int
	Y      int
	Width  int
	Height int
	Stride int
}

func (w Window) Rect() image.Rectangle {
	return image.Rect(w.X, w.Y, w.X+w.Width, w.Y+w.Height)
}

type FeatureVector []float32

type ColorMode string

const (
	ColorRGB       ColorMode = "rgb"
	ColorGrayscale ColorMode = "grayscale"
)

func (m ColorMode) Channels() int {
	if m == ColorGrayscale {
		return 1
	}
	return RGBChannels
}

type Detection struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
}

func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f (%d,%d %dx%d)", d.Label, d.Score, d.X, d.Y, d.Width, d.Height)
}

type ResultKind int

const (
	Labeled ResultKind = iota + 1
	Localized
)

func (k ResultKind) String() string {
	switch k {
	case Labeled:
		return "labeled"
	case Localized:
		return "localized"
	default:
		return "unknown"
	}
}

// ClassificationResult is either a label→score mapping or a list of boxes
// already in frame coordinates; Kind says which field is set.
type ClassificationResult struct {
	Kind   ResultKind
	Scores map[string]float64
	Boxes  []Detection
}

func LabeledResult(scores map[string]float64) ClassificationResult {
	return ClassificationResult{Kind: Labeled, Scores: scores}
}

func LocalizedResult(boxes []Detection) ClassificationResult {
	return ClassificationResult{Kind: Localized, Boxes: boxes}
}

type ModelInfo struct {
	Name        string
	Owner       string
	InputWidth  int
	InputHeight int
	ColorMode   ColorMode
	Labels      []string
	Kind        ResultKind
}
