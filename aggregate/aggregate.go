// Package aggregate turns per-window classifier outputs into detections.
// Nothing here merges or suppresses overlapping boxes; overlapping windows that
// both pass the threshold are both reported.
package aggregate

import (
	iface "EdgeScan/interface"
	"fmt"
	"sort"
)

type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeTiled      Mode = "tiled"
	ModeWholeFrame Mode = "whole-frame"
	ModeDetection  Mode = "detection"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeTiled, ModeWholeFrame, ModeDetection:
		return m, nil
	}
	return "", iface.ConfigErrorf("mode", "unknown aggregation mode %q", s)
}

// Resolve picks the concrete mode for auto: detection for box-producing models,
// whole-frame when the scan is a single untargeted window, tiled otherwise.
func (m Mode) Resolve(kind iface.ResultKind, windows int, targetLabel string) Mode {
	if m != ModeAuto && m != "" {
		return m
	}
	switch {
	case kind == iface.Localized:
		return ModeDetection
	case windows == 1 && targetLabel == "":
		return ModeWholeFrame
	default:
		return ModeTiled
	}
}

// Windows emits one detection per window, in scan order, whose score for
// label is at least threshold. results[i] belongs to windows[i]; a nil entry
// (failed tile) or a Localized result contributes nothing. With an empty
// label each window is judged by its own top label.
func Windows(windows []iface.Window, results []*iface.ClassificationResult, threshold float64, label string) []iface.Detection {
	var out []iface.Detection
	for i, w := range windows {
		if i >= len(results) || results[i] == nil || results[i].Kind != iface.Labeled {
			continue
		}
		l, score, ok := label, 0.0, false
		if l == "" {
			l, score, ok = top(results[i].Scores)
		} else {
			score, ok = results[i].Scores[l]
		}
		if !ok || score < threshold {
			continue
		}
		out = append(out, iface.Detection{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height, Label: l, Score: score})
	}
	return out
}

// TopLabel returns the highest scoring label of a whole-frame result. There
// is no threshold; ok is false only for an empty or non-labeled result.
func TopLabel(result iface.ClassificationResult) (label string, score float64, ok bool) {
	if result.Kind != iface.Labeled {
		return "", 0, false
	}
	return top(result.Scores)
}

// Boxes passes native detections through, dropping those under threshold.
func Boxes(result iface.ClassificationResult, threshold float64) []iface.Detection {
	if result.Kind != iface.Localized {
		return nil
	}
	var out []iface.Detection
	for _, b := range result.Boxes {
		if b.Score >= threshold {
			out = append(out, b)
		}
	}
	return out
}

// Aggregate dispatches on mode. mode must already be resolved.
func Aggregate(mode Mode, windows []iface.Window, results []*iface.ClassificationResult, threshold float64, label string) ([]iface.Detection, error) {
	if len(windows) != len(results) {
		return nil, fmt.Errorf("aggregate: %d windows but %d results", len(windows), len(results))
	}
	switch mode {
	case ModeTiled:
		return Windows(windows, results, threshold, label), nil
	case ModeWholeFrame:
		if len(windows) != 1 {
			return nil, fmt.Errorf("aggregate: whole-frame mode needs one window, got %d", len(windows))
		}
		if label != "" {
			return Windows(windows, results, threshold, label), nil
		}
		if results[0] == nil {
			return nil, nil
		}
		l, score, ok := TopLabel(*results[0])
		if !ok {
			return nil, nil
		}
		w := windows[0]
		return []iface.Detection{{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height, Label: l, Score: score}}, nil
	case ModeDetection:
		var out []iface.Detection
		for _, r := range results {
			if r != nil {
				out = append(out, Boxes(*r, threshold)...)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("aggregate: unresolved mode %q", mode)
}

// top uses strict > so the lexicographically first label wins ties.
func top(scores map[string]float64) (string, float64, bool) {
	if len(scores) == 0 {
		return "", 0, false
	}
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, l := range labels[1:] {
		if scores[l] > scores[best] {
			best = l
		}
	}
	return best, scores[best], true
}
