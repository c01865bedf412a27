package overlay

import (
	"bytes"
	iface "EdgeScan/interface"
	"sync"

	"github.com/disintegration/imaging"
)

const JPEGQuality = 80

// Stream keeps the most recent presented frame as JPEG for the web surface.
type Stream struct {
	mu   sync.RWMutex
	jpeg []byte
	seq  uint64
}

func (s *Stream) Present(frame iface.Frame) error {
	if frame.Empty() {
		return iface.ErrNoFrame
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.ToImage(), imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return err
	}
	s.mu.Lock()
	s.jpeg = buf.Bytes()
	s.seq = frame.Seq
	s.mu.Unlock()
	return nil
}

// LatestJPEG returns the last frame and its sequence number.
func (s *Stream) LatestJPEG() ([]byte, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.seq, s.jpeg != nil
}
