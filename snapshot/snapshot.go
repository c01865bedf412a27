// Package snapshot saves frames under the next free numbered file name.
package snapshot

import (
	iface "EdgeScan/interface"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
)

const DefaultSuffix = ".png"

// FileNamer owns the file-number counter. It starts at Start and only moves
// forward, skipping numbers that already exist in Dir.
type FileNamer struct {
	Dir    string
	Suffix string

	mu   sync.Mutex
	next int
}

func NewFileNamer(dir string, start int) *FileNamer {
	return &FileNamer{Dir: dir, Suffix: DefaultSuffix, next: start}
}

// Next returns the first unused path and reserves its number.
func (n *FileNamer) Next() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	suffix := n.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	for {
		path := filepath.Join(n.Dir, strconv.Itoa(n.next)+suffix)
		_, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			n.next++
			return path, nil
		case err != nil:
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		n.next++
	}
}

// Save writes frame to the next free path; the format follows the suffix.
func (n *FileNamer) Save(frame iface.Frame) (string, error) {
	if frame.Empty() {
		return "", iface.ErrNoFrame
	}
	path, err := n.Next()
	if err != nil {
		return "", err
	}
	if err := imaging.Save(frame.ToImage(), path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
