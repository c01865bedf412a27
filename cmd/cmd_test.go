package cmd

import (
	adhoc "EdgeScan/Adhoc"
	"EdgeScan/config"
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type dogBackend struct{}

func (dogBackend) Init(string) (iface.ModelInfo, error) {
	return iface.ModelInfo{Name: "pets", Owner: "lab", InputWidth: 32, InputHeight: 32, Labels: []string{"cat", "dog"}}, nil
}

func (dogBackend) Classify(iface.FeatureVector) (iface.ClassificationResult, error) {
	return iface.LabeledResult(map[string]float64{"cat": 0.15, "dog": 0.85}), nil
}

func (dogBackend) Shutdown() {}

func loadedDetector(t *testing.T) *engine.Detector {
	t.Helper()
	det := &engine.Detector{}
	det.SetLogger(zap.NewNop())
	require.True(t, det.New(dogBackend{}, engine.Options{}))
	require.NoError(t, det.Load("pets.eim"))
	return det
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

func TestReadFeatures(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	wrapped := filepath.Join(dir, "wrapped.json")
	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(bare, []byte("[0.5, 0.25, 1]\n"), 0o644))
	require.NoError(t, os.WriteFile(wrapped, []byte(`{"features": [0.1, 0.2]}`), 0o644))
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))

	fv, err := ReadFeatures(bare)
	require.NoError(t, err)
	assert.Equal(t, iface.FeatureVector{0.5, 0.25, 1}, fv)

	fv, err = ReadFeatures(wrapped)
	require.NoError(t, err)
	assert.Len(t, fv, 2)

	_, err = ReadFeatures(empty)
	assert.Error(t, err)
	_, err = ReadFeatures(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestClassifyFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte("[0.1, 0.2, 0.3]"), 0o644))

	var out bytes.Buffer
	require.NoError(t, classifyFeatures(&out, loadedDetector(t), path))
	text := out.String()
	assert.Contains(t, text, "Model name: pets")
	assert.Contains(t, text, "Model owner: lab")
	assert.Contains(t, text, "  cat: 0.1500\n  dog: 0.8500\n")
	assert.Contains(t, text, "Inference time:")
}

func TestClassifyImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), 40, 40)
	writeImage(t, filepath.Join(dir, "b.png"), 16, 16)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	pc := config.Default().Pipeline
	pc.Width, pc.Height = 32, 32
	pc.WindowWidth, pc.WindowHeight = 32, 32
	pc.Stride = 32
	pc.Threshold = 0.5

	var out bytes.Buffer
	require.NoError(t, classifyImages(context.Background(), &out, pc, loadedDetector(t), []string{dir}))
	text := out.String()
	assert.Contains(t, text, "a.png: dog 0.85 (0,0 32x32)")
	assert.Contains(t, text, "b.png: error:")
	assert.Contains(t, text, "2 images, 1 failed, mode whole-frame")
}

func TestExpandImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "1.png"), 4, 4)
	writeImage(t, filepath.Join(dir, "0.png"), 4, 4)
	single := filepath.Join(t.TempDir(), "x.jpg")
	writeImage(t, single, 4, 4)

	files, err := expandImages([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "0.png"), filepath.Join(dir, "1.png"), single}, files)

	_, err = expandImages([]string{t.TempDir()})
	assert.Error(t, err)
}

func TestApplyRunFlags(t *testing.T) {
	c := config.Default()
	require.NoError(t, runCmd.Flags().Parse([]string{"--replay", "frames", "--mode", "tiled", "--threshold", "0.8", "-w", "3"}))
	applyRunFlags(runCmd, &c, runOpts)
	assert.Equal(t, "frames", c.Capture.ReplayDir)
	assert.Equal(t, "tiled", c.Pipeline.Mode)
	assert.Equal(t, 0.8, c.Pipeline.Threshold)
	assert.Equal(t, 3, c.Pipeline.Workers)
	assert.Equal(t, "/dev/video0", c.Capture.Device, "unset flags keep config values")
	assert.Equal(t, adhoc.ReplayInstance, instanceClass(c))

	c.Registry.InstanceClass = "Camera"
	assert.Equal(t, adhoc.CameraInstance, instanceClass(c))
}

func TestCaptureImage(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	img := imaging.New(40, 30, color.NRGBA{A: 255})
	// mark the pixel that lands at the crop's top-left corner
	img.Set(12, 7, color.NRGBA{R: 255, A: 255})
	require.NoError(t, imaging.Save(img, filepath.Join(in, "frame.png")))
	require.NoError(t, os.WriteFile(filepath.Join(out, "0.png"), []byte("taken"), 0o644))

	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.Default()
	cfg.Capture.ReplayDir = in

	path, err := captureImage(context.Background(), captureOptions{Width: 16, Height: 16, Countdown: 0, Dir: out})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "1.png"), path)

	crop, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), crop.Bounds())
	r, _, _, _ := crop.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	_, err = captureImage(context.Background(), captureOptions{Width: 64, Height: 64, Dir: out})
	assert.Error(t, err)
}
