package geometry

import (
	"errors"
	"fmt"
	"image"

	iface "EdgeScan/interface"

	"github.com/disintegration/imaging"
)

var ErrFrameTooSmall = errors.New("frame smaller than canonical resolution")

type Rotation int

const (
	None Rotation = iota
	Rot90
	Rot180
	Rot270
)

// ParseRotation maps clockwise degrees onto a Rotation. Anything other than
// 0, 90, 180 or 270 is a configuration error.
func ParseRotation(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return None, nil
	case 90:
		return Rot90, nil
	case 180:
		return Rot180, nil
	case 270:
		return Rot270, nil
	}
	return None, iface.ConfigErrorf("rotation", "must be one of 0, 90, 180, 270, got %d", degrees)
}

func (r Rotation) Degrees() int {
	return int(r) * 90
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", r.Degrees())
}

// Swaps reports whether the rotation exchanges width and height.
func (r Rotation) Swaps() bool {
	return r == Rot90 || r == Rot270
}

// Apply rotates clockwise. imaging rotates counter-clockwise, hence the
// 90/270 swap.
func (r Rotation) Apply(img image.Image) *image.NRGBA {
	switch r {
	case Rot90:
		return imaging.Rotate270(img)
	case Rot180:
		return imaging.Rotate180(img)
	case Rot270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// CenterOffset returns the top-left corner of a centered w×h crop.
func CenterOffset(frameW, frameH, w, h int) (x, y int) {
	return (frameW - w) / 2, (frameH - h) / 2
}

// ValidateCapture checks at startup that a capture of capW×capH, once rotated,
// can be cropped to w×h.
func ValidateCapture(capW, capH int, rot Rotation, w, h int) error {
	if w <= 0 || h <= 0 {
		return iface.ConfigErrorf("canonical_resolution", "must be positive, got %dx%d", w, h)
	}
	if rot.Swaps() {
		capW, capH = capH, capW
	}
	if capW < w || capH < h {
		return iface.ConfigErrorf("capture_resolution",
			"%dx%d after %v rotation is smaller than canonical %dx%d", capW, capH, rot, w, h)
	}
	return nil
}

// Normalizer carries the rotation and canonical size resolved from config.
type Normalizer struct {
	Rotation Rotation
	Width    int
	Height   int
}

func NewNormalizer(rot Rotation, width, height int) Normalizer {
	return Normalizer{Rotation: rot, Width: width, Height: height}
}

func (n Normalizer) Normalize(f iface.Frame) (iface.Frame, error) {
	return Normalize(f, n.Rotation, n.Width, n.Height)
}

// Normalize rotates then center-crops f to w×h. The result never aliases f.
func Normalize(f iface.Frame, rot Rotation, w, h int) (iface.Frame, error) {
	if err := f.Check(); err != nil {
		return iface.Frame{}, err
	}
	rotW, rotH := f.Width, f.Height
	if rot.Swaps() {
		rotW, rotH = rotH, rotW
	}
	if rotW < w || rotH < h {
		return iface.Frame{}, fmt.Errorf("%w: %dx%d < %dx%d", ErrFrameTooSmall, rotW, rotH, w, h)
	}

	var out iface.Frame
	if rot == None {
		x, y := CenterOffset(rotW, rotH, w, h)
		sub, err := f.SubImage(image.Rect(x, y, x+w, y+h))
		if err != nil {
			return iface.Frame{}, err
		}
		out = sub
	} else {
		rotated := rot.Apply(f.ToImage())
		x, y := CenterOffset(rotW, rotH, w, h)
		out = iface.FrameFromImage(imaging.Crop(rotated, image.Rect(x, y, x+w, y+h)))
	}
	out.Seq = f.Seq
	out.Timestamp = f.Timestamp
	return out, nil
}
