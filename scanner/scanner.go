// Package scanner tiles a frame into fixed-size windows.
//
// The grid is floor based: a window is only generated when it fits entirely
// inside the frame, and windows are never shifted inward. When the stride does
// not divide (frame - window) evenly, the rightmost and bottommost strips of
// the frame are covered by no window and can never produce a detection.
package scanner

import (
	"iter"

	iface "EdgeScan/interface"
)

// Grid returns the number of window columns and rows.
func Grid(frameW, frameH, winW, winH, stride int) (cols, rows int) {
	if stride < 1 || winW < 1 || winH < 1 || frameW < winW || frameH < winH {
		return 0, 0
	}
	return (frameW-winW)/stride + 1, (frameH-winH)/stride + 1
}

func Count(frameW, frameH, winW, winH, stride int) int {
	cols, rows := Grid(frameW, frameH, winW, winH, stride)
	return cols * rows
}

// Scan yields windows in row-major order: every column of row 0 by increasing
// x, then row 1, and so on. The sequence is pure and can be ranged over again.
func Scan(frameW, frameH, winW, winH, stride int) iter.Seq[iface.Window] {
	cols, rows := Grid(frameW, frameH, winW, winH, stride)
	return func(yield func(iface.Window) bool) {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				w := iface.Window{
					Index:  r*cols + c,
					X:      c * stride,
					Y:      r * stride,
					Width:  winW,
					Height: winH,
					Stride: stride,
				}
				if !yield(w) {
					return
				}
			}
		}
	}
}

func Collect(frameW, frameH, winW, winH, stride int) []iface.Window {
	out := make([]iface.Window, 0, Count(frameW, frameH, winW, winH, stride))
	for w := range Scan(frameW, frameH, winW, winH, stride) {
		out = append(out, w)
	}
	return out
}

// Uncovered returns the width of the right strip and the height of the bottom
// strip that no window reaches.
func Uncovered(frameW, frameH, winW, winH, stride int) (right, bottom int) {
	cols, rows := Grid(frameW, frameH, winW, winH, stride)
	if cols == 0 {
		return frameW, frameH
	}
	return frameW - ((cols-1)*stride + winW), frameH - ((rows-1)*stride + winH)
}
