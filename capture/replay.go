// Package capture provides frame sources that need no camera.
package capture

import (
	iface "EdgeScan/interface"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// ListImages returns the image files of dir in name order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Replay serves the images of a directory (or an explicit file list) as a
// frame stream at their stored size. Once exhausted Read returns io.EOF
// unless Loop is set.
type Replay struct {
	Dir   string
	Files []string
	Loop  bool
	// Interval paces reads; zero replays as fast as frames are consumed.
	Interval time.Duration
	Clock    clock.Clock

	mu   sync.Mutex
	pos  int
	seq  uint64
	open bool
}

func NewReplay(dir string, loop bool) *Replay {
	return &Replay{Dir: dir, Loop: loop}
}

func (r *Replay) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Files) == 0 {
		files, err := ListImages(r.Dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", r.Dir, err)
		}
		r.Files = files
	}
	if len(r.Files) == 0 {
		return fmt.Errorf("no images in %s", r.Dir)
	}
	if r.Clock == nil {
		r.Clock = clock.New()
	}
	r.pos = 0
	r.open = true
	return nil
}

func (r *Replay) Configure(width, height int) error {
	return nil
}

func (r *Replay) Read(ctx context.Context) (iface.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return iface.Frame{}, errors.New("replay source not open")
	}
	if r.Interval > 0 {
		select {
		case <-ctx.Done():
			return iface.Frame{}, ctx.Err()
		case <-r.Clock.After(r.Interval):
		}
	}
	if r.pos >= len(r.Files) {
		if !r.Loop {
			return iface.Frame{}, io.EOF
		}
		r.pos = 0
	}
	path := r.Files[r.pos]
	r.pos++
	img, err := imaging.Open(path)
	if err != nil {
		return iface.Frame{}, fmt.Errorf("%w: %s: %v", iface.ErrNoFrame, path, err)
	}
	f := iface.FrameFromImage(img)
	r.seq++
	f.Seq = r.seq
	f.Timestamp = r.Clock.Now()
	return f, nil
}

func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}
