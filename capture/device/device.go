// Package device reads frames from a camera through OpenCV.
package device

import (
	iface "EdgeScan/interface"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Source wraps a gocv VideoCapture. Device is a V4L path such as /dev/video0
// or a numeric camera index.
type Source struct {
	Device string
	Clock  clock.Clock

	mu     sync.Mutex
	webcam *gocv.VideoCapture
	bgr    gocv.Mat
	rgb    gocv.Mat
	seq    uint64
}

func New(device string) *Source {
	return &Source{Device: device, Clock: clock.New()}
}

func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dev interface{} = s.Device
	if id, err := strconv.Atoi(s.Device); err == nil {
		dev = id
	}
	webcam, err := gocv.OpenVideoCaptureWithAPI(dev, gocv.VideoCaptureV4L)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("open %s: device not opened", s.Device)
	}
	s.webcam = webcam
	s.bgr = gocv.NewMat()
	s.rgb = gocv.NewMat()
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	return nil
}

func (s *Source) Configure(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webcam == nil {
		return errors.New("device not open")
	}
	s.webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	s.webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	s.webcam.Set(gocv.VideoCaptureBufferSize, 1)
	gotW := int(s.webcam.Get(gocv.VideoCaptureFrameWidth))
	gotH := int(s.webcam.Get(gocv.VideoCaptureFrameHeight))
	if gotW < width || gotH < height {
		return fmt.Errorf("device delivers %dx%d, asked for %dx%d", gotW, gotH, width, height)
	}
	return nil
}

// Read blocks on the device; an empty grab is an acquisition gap.
func (s *Source) Read(ctx context.Context) (iface.Frame, error) {
	if err := ctx.Err(); err != nil {
		return iface.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webcam == nil {
		return iface.Frame{}, errors.New("device not open")
	}
	if ok := s.webcam.Read(&s.bgr); !ok || s.bgr.Empty() {
		return iface.Frame{}, iface.ErrNoFrame
	}
	if err := gocv.CvtColor(s.bgr, &s.rgb, gocv.ColorBGRToRGB); err != nil {
		return iface.Frame{}, fmt.Errorf("%w: %v", iface.ErrNoFrame, err)
	}
	s.seq++
	return iface.Frame{
		Seq:       s.seq,
		Timestamp: s.Clock.Now(),
		Width:     s.rgb.Cols(),
		Height:    s.rgb.Rows(),
		Channels:  iface.RGBChannels,
		Pix:       s.rgb.ToBytes(),
	}, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webcam == nil {
		return nil
	}
	err := multierr.Combine(s.bgr.Close(), s.rgb.Close(), s.webcam.Close())
	s.webcam = nil
	return err
}

// Settle drops the first frames some UVC cameras return dark while the
// exposure converges.
func (s *Source) Settle(ctx context.Context, d time.Duration) {
	deadline := s.Clock.Now().Add(d)
	for s.Clock.Now().Before(deadline) {
		if _, err := s.Read(ctx); err != nil && ctx.Err() != nil {
			return
		}
	}
}
