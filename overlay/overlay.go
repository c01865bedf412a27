// Package overlay draws detections onto frames and hands them to a display.
package overlay

import (
	"EdgeScan/aggregate"
	iface "EdgeScan/interface"
	"EdgeScan/pipeline"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	FontSize  = 10.0
	LineWidth = 1.0
)

var (
	White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	font  *truetype.Font
)

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Presenter shows a finished frame (window, web stream, file).
type Presenter interface {
	Present(frame iface.Frame) error
}

type PresenterFunc func(frame iface.Frame) error

func (f PresenterFunc) Present(frame iface.Frame) error {
	return f(frame)
}

// Annotator is an iface.RenderSink drawing with gg.
type Annotator struct {
	Out Presenter
}

func NewAnnotator(out Presenter) *Annotator {
	return &Annotator{Out: out}
}

func (a *Annotator) DrawRectangle(frame *iface.Frame, rect image.Rectangle, c color.Color) error {
	if frame.Empty() {
		return iface.ErrNoFrame
	}
	dc := gg.NewContextForImage(frame.ToImage())
	strokeRect(dc, rect, c)
	*frame = withMeta(*frame, dc.Image())
	return nil
}

func (a *Annotator) DrawText(frame *iface.Frame, text string, pos image.Point, c color.Color) error {
	if frame.Empty() {
		return iface.ErrNoFrame
	}
	dc := gg.NewContextForImage(frame.ToImage())
	drawString(dc, text, pos, c)
	*frame = withMeta(*frame, dc.Image())
	return nil
}

func (a *Annotator) Present(frame iface.Frame) error {
	if a.Out == nil {
		return nil
	}
	return a.Out.Present(frame)
}

// Annotate returns a copy of r.Frame with every detection boxed and labeled,
// plus the frame rate in the top-left corner.
func Annotate(r pipeline.Result) iface.Frame {
	if r.Frame.Empty() {
		return r.Frame
	}
	dc := gg.NewContextForImage(r.Frame.ToImage())
	for _, d := range r.Detections {
		if r.Mode == aggregate.ModeWholeFrame {
			// the box is the whole frame; put the label near the bottom instead
			drawString(dc, fmt.Sprintf("%s: %.2f", d.Label, d.Score), image.Pt(0, r.Frame.Height-4), White)
			continue
		}
		strokeRect(dc, d.Rect(), White)
		drawString(dc, fmt.Sprintf("%s: %.2f", d.Label, d.Score), image.Pt(d.X, d.Y+int(FontSize)), White)
	}
	drawString(dc, fmt.Sprintf("FPS: %.2f", r.FPS), image.Pt(0, 12), White)
	return withMeta(r.Frame, dc.Image())
}

// Emitter annotates each result and presents it.
type Emitter struct {
	Out Presenter
}

func (e *Emitter) Emit(_ context.Context, r pipeline.Result) error {
	if r.Frame.Empty() || e.Out == nil {
		return nil
	}
	return e.Out.Present(Annotate(r))
}

func strokeRect(dc *gg.Context, r image.Rectangle, c color.Color) {
	dc.SetColor(c)
	dc.SetLineWidth(LineWidth)
	dc.DrawRectangle(float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Dx()-1), float64(r.Dy()-1))
	dc.Stroke()
}

// drawString places the text baseline at p.
func drawString(dc *gg.Context, text string, p image.Point, c color.Color) {
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: FontSize}))
	dc.SetColor(c)
	dc.DrawString(text, float64(p.X), float64(p.Y))
}

func withMeta(src iface.Frame, img image.Image) iface.Frame {
	out := iface.FrameFromImage(img)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	return out
}
