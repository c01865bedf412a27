package cmd

import (
	"EdgeScan/capture"
	"EdgeScan/config"
	iface "EdgeScan/interface"
	"EdgeScan/logger"
	"EdgeScan/pipeline"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type classifyOptions struct {
	Features string
	Images   []string
	Mode     string
	Target   string
}

var classifyOpts classifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a stored feature vector or still images",
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifyOpts.Features == "" && len(classifyOpts.Images) == 0 {
			return errors.New("one of --features or --image is required")
		}
		if cmd.Flags().Changed("mode") {
			cfg.Pipeline.Mode = classifyOpts.Mode
		}
		if cmd.Flags().Changed("target") {
			cfg.Pipeline.TargetLabel = classifyOpts.Target
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		det, err := newDetector(cfg.Model, logger.Log())
		if err != nil {
			return err
		}
		defer det.Destroy()

		out := cmd.OutOrStdout()
		if classifyOpts.Features != "" {
			return classifyFeatures(out, det, classifyOpts.Features)
		}
		return classifyImages(cmd.Context(), out, cfg.Pipeline, det, classifyOpts.Images)
	},
}

func init() {
	f := classifyCmd.Flags()
	f.StringVarP(&classifyOpts.Features, "features", "f", "", "JSON file holding a raw feature vector")
	f.StringSliceVarP(&classifyOpts.Images, "image", "i", nil, "image file or directory (repeatable)")
	f.StringVarP(&classifyOpts.Mode, "mode", "m", "", "aggregation mode for images")
	f.StringVarP(&classifyOpts.Target, "target", "t", "", "label to report in tiled mode")
	rootCmd.AddCommand(classifyCmd)
}

// featureClassifier is the part of engine.Detector the static test needs.
type featureClassifier interface {
	ModelInfo() iface.ModelInfo
	Classify(w iface.Window, features iface.FeatureVector) (iface.ClassificationResult, error)
}

// ReadFeatures accepts either a bare JSON array or {"features": [...]}.
func ReadFeatures(path string) (iface.FeatureVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	var fv iface.FeatureVector
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Features iface.FeatureVector `json:"features"`
		}
		err = json.Unmarshal(data, &wrapped)
		fv = wrapped.Features
	} else {
		err = json.Unmarshal(data, &fv)
	}
	if err != nil {
		return nil, fmt.Errorf("parse features %s: %w", path, err)
	}
	if len(fv) == 0 {
		return nil, fmt.Errorf("no features in %s", path)
	}
	return fv, nil
}

func classifyFeatures(out io.Writer, det featureClassifier, path string) error {
	features, err := ReadFeatures(path)
	if err != nil {
		return err
	}
	info := det.ModelInfo()
	fmt.Fprintln(out, "---Static Features Inference Test---")
	fmt.Fprintln(out, "Model name:", info.Name)
	fmt.Fprintln(out, "Model owner:", info.Owner)

	w := iface.Window{Width: info.InputWidth, Height: info.InputHeight}
	start := time.Now()
	res, err := det.Classify(w, features)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Predictions:")
	switch res.Kind {
	case iface.Labeled:
		labels := make([]string, 0, len(res.Scores))
		for l := range res.Scores {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			fmt.Fprintf(out, "  %s: %.4f\n", l, res.Scores[l])
		}
	case iface.Localized:
		for _, b := range res.Boxes {
			fmt.Fprintf(out, "  %s\n", b)
		}
	}
	fmt.Fprintf(out, "Inference time: %.3f ms\n", float64(elapsed.Microseconds())/1000)
	return nil
}

// expandImages turns directories into their image files and keeps files as
// given.
func expandImages(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := capture.ListImages(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, errors.New("no images found")
	}
	return files, nil
}

func classifyImages(ctx context.Context, out io.Writer, pc config.Pipeline, det pipeline.Classifier, paths []string) error {
	files, err := expandImages(paths)
	if err != nil {
		return err
	}
	// stills come in any size; only the canonical crop has to fit
	pc.CaptureWidth, pc.CaptureHeight = pc.Width, pc.Height
	driver, err := pipeline.New(pc, &capture.Replay{Files: files}, det)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	type row struct {
		file   string
		result pipeline.Result
		err    error
	}
	rows := make([]row, 0, len(files))
	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		r := row{file: path}
		img, err := imaging.Open(path)
		if err != nil {
			r.err = err
		} else {
			frame := iface.FrameFromImage(img)
			frame.Seq = uint64(i)
			r.result, r.err = driver.RunOnce(ctx, frame)
		}
		rows = append(rows, r)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	failed := 0
	for _, r := range rows {
		name := filepath.Base(r.file)
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", name, r.err)
			continue
		}
		if len(r.result.Detections) == 0 {
			fmt.Fprintf(out, "%s: no detections\n", name)
			continue
		}
		for _, d := range r.result.Detections {
			fmt.Fprintf(out, "%s: %s\n", name, d)
		}
	}
	fmt.Fprintf(out, "%d images, %d failed, mode %s\n", len(rows), failed, driver.Mode())
	return nil
}
