// Package window shows frames in a desktop window through OpenCV highgui.
package window

import (
	iface "EdgeScan/interface"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

const QuitKey = 'q'

// Sink is an overlay.Presenter. highgui must be driven from one goroutine;
// the pipeline presents from its loop, which satisfies that.
type Sink struct {
	win  *gocv.Window
	quit chan struct{}
	once sync.Once
}

func New(title string) *Sink {
	return &Sink{win: gocv.NewWindow(title), quit: make(chan struct{})}
}

func (s *Sink) Present(frame iface.Frame) error {
	if frame.Empty() {
		return iface.ErrNoFrame
	}
	rgb, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
	if err != nil {
		return fmt.Errorf("frame to mat: %w", err)
	}
	defer rgb.Close()
	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR); err != nil {
		return err
	}
	s.win.IMShow(bgr)
	if s.win.WaitKey(1) == QuitKey {
		s.once.Do(func() { close(s.quit) })
	}
	return nil
}

// Quit is closed once the user presses q in the window.
func (s *Sink) Quit() <-chan struct{} {
	return s.quit
}

func (s *Sink) Close() error {
	return s.win.Close()
}
