package pipeline

import (
	"EdgeScan/aggregate"
	"EdgeScan/config"
	"EdgeScan/fps"
	"EdgeScan/geometry"
	iface "EdgeScan/interface"
	"EdgeScan/logger"
	"EdgeScan/scanner"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Classifier is what the driver needs from engine.Detector.
type Classifier interface {
	ModelInfo() iface.ModelInfo
	ClassifyWindow(frame iface.Frame, w iface.Window) (iface.ClassificationResult, error)
}

// Result is one emitted cycle.
type Result struct {
	RunID      string            `json:"runId"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Mode       aggregate.Mode    `json:"mode"`
	Detections []iface.Detection `json:"detections"`
	FPS        float64           `json:"fps"`
	Windows    int               `json:"windows"`
	Failed     int               `json:"failed"`
	// Frame is the normalized frame the detections refer to.
	Frame iface.Frame `json:"-"`
}

type Emitter interface {
	Emit(ctx context.Context, r Result) error
}

type EmitterFunc func(ctx context.Context, r Result) error

func (f EmitterFunc) Emit(ctx context.Context, r Result) error {
	return f(ctx, r)
}

type Stats struct {
	RunID                string  `json:"runId"`
	State                string  `json:"state"`
	Frames               uint64  `json:"frames"`
	Gaps                 uint64  `json:"gaps"`
	ClassificationErrors uint64  `json:"classificationErrors"`
	Windows              int     `json:"windows"`
	FPS                  float64 `json:"fps"`
	SmoothedFPS          float64 `json:"smoothedFps"`
	Mode                 string  `json:"mode"`
}

type Driver struct {
	cfg        config.Pipeline
	normalizer geometry.Normalizer
	mode       aggregate.Mode
	source     iface.FrameSource
	classifier Classifier
	emitters   []Emitter
	windows    []iface.Window

	log   *zap.Logger
	clk   clock.Clock
	meter *fps.Meter

	runID   string
	state   atomic.Int32
	stop    atomic.Bool
	seq     uint64
	frames  atomic.Uint64
	gaps    atomic.Uint64
	clsErrs atomic.Uint64

	mu     sync.RWMutex
	latest Result
	hub    broadcaster
}

// New validates the pipeline configuration before anything touches the
// source. Configuration problems come back as *iface.ConfigurationError.
func New(cfg config.Pipeline, source iface.FrameSource, classifier Classifier, emitters ...Emitter) (*Driver, error) {
	if source == nil {
		return nil, iface.ConfigErrorf("source", "no frame source")
	}
	if classifier == nil {
		return nil, iface.ConfigErrorf("classifier", "no classifier")
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 || cfg.WindowWidth > cfg.Width || cfg.WindowHeight > cfg.Height {
		return nil, iface.ConfigErrorf("window", "window %dx%d does not fit canonical %dx%d", cfg.WindowWidth, cfg.WindowHeight, cfg.Width, cfg.Height)
	}
	if cfg.Stride < 1 {
		return nil, iface.ConfigErrorf("stride", "must be at least 1, got %d", cfg.Stride)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, iface.ConfigErrorf("threshold", "must be in [0, 1], got %g", cfg.Threshold)
	}
	rot, err := geometry.ParseRotation(cfg.Rotation)
	if err != nil {
		return nil, err
	}
	if err := geometry.ValidateCapture(cfg.CaptureWidth, cfg.CaptureHeight, rot, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	mode, err := aggregate.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	d := &Driver{
		cfg:        cfg,
		normalizer: geometry.NewNormalizer(rot, cfg.Width, cfg.Height),
		source:     source,
		classifier: classifier,
		emitters:   emitters,
		windows:    scanner.Collect(cfg.Width, cfg.Height, cfg.WindowWidth, cfg.WindowHeight, cfg.Stride),
		log:        logger.Component("pipeline"),
		clk:        clock.New(),
	}
	d.mode = mode.Resolve(classifier.ModelInfo().Kind, len(d.windows), cfg.TargetLabel)
	d.meter = fps.NewMeter(d.clk, cfg.FPSAlpha)
	d.state.Store(int32(Idle))
	return d, nil
}

func (d *Driver) SetLogger(l *zap.Logger) {
	d.log = l
}

// SetClock must be called before Run.
func (d *Driver) SetClock(clk clock.Clock) {
	d.clk = clk
	d.meter = fps.NewMeter(clk, d.cfg.FPSAlpha)
}

func (d *Driver) AddEmitter(e Emitter) {
	d.emitters = append(d.emitters, e)
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) Mode() aggregate.Mode {
	return d.mode
}

func (d *Driver) Windows() []iface.Window {
	return d.windows
}

func (d *Driver) RunID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runID
}

// Stop asks Run to return after the current cycle.
func (d *Driver) Stop() {
	d.stop.Store(true)
}

func (d *Driver) Latest() (Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.latest.RunID != ""
}

// Subscribe returns a channel of every result from now on and a cancel func.
// The channel is closed on cancel or when Run returns.
func (d *Driver) Subscribe() (<-chan Result, func()) {
	return d.hub.subscribe()
}

func (d *Driver) Stats() Stats {
	return Stats{
		RunID:                d.RunID(),
		State:                d.State().String(),
		Frames:               d.frames.Load(),
		Gaps:                 d.gaps.Load(),
		ClassificationErrors: d.clsErrs.Load(),
		Windows:              len(d.windows),
		FPS:                  d.meter.Current(),
		SmoothedFPS:          d.meter.Smoothed(),
		Mode:                 string(d.mode),
	}
}

func (d *Driver) setState(s State) {
	cur := State(d.state.Load())
	if !cur.CanMove(s) {
		d.log.Debug("Unexpected state transition", zap.Stringer("from", cur), zap.Stringer("to", s))
	}
	d.state.Store(int32(s))
}

// Run opens the source and loops until ctx is done or Stop is called. Stop is
// only observed between cycles. Source failures at open/configure are fatal
// (*iface.InitializationError); per-frame failures are not.
func (d *Driver) Run(ctx context.Context) (err error) {
	if d.State() == Stopped {
		return errors.New("pipeline already stopped")
	}
	d.mu.Lock()
	d.runID = uuid.NewString()
	d.mu.Unlock()

	defer func() {
		d.state.Store(int32(Stopped))
		d.hub.closeAll()
		err = multierr.Append(err, d.closeAll())
	}()

	if err := d.source.Open(); err != nil {
		return &iface.InitializationError{Component: "frame source", Err: err}
	}
	if err := d.source.Configure(d.cfg.CaptureWidth, d.cfg.CaptureHeight); err != nil {
		return &iface.InitializationError{Component: "frame source", Err: err}
	}

	right, bottom := scanner.Uncovered(d.cfg.Width, d.cfg.Height, d.cfg.WindowWidth, d.cfg.WindowHeight, d.cfg.Stride)
	d.log.Info("Pipeline started",
		zap.String("runId", d.RunID()),
		zap.String("mode", string(d.mode)),
		zap.Int("windows", len(d.windows)),
		zap.Stringer("rotation", d.normalizer.Rotation),
		zap.Int("workers", d.cfg.Workers))
	if right > 0 || bottom > 0 {
		d.log.Warn("Scan leaves frame edges uncovered", zap.Int("rightPixels", right), zap.Int("bottomPixels", bottom))
	}

	for {
		if d.stop.Load() || ctx.Err() != nil {
			d.log.Info("Pipeline stopped", zap.Uint64("frames", d.frames.Load()), zap.Uint64("gaps", d.gaps.Load()))
			return nil
		}
		d.cycle(ctx)
	}
}

// RunOnce processes exactly one frame already in hand; used for stills.
func (d *Driver) RunOnce(ctx context.Context, frame iface.Frame) (Result, error) {
	d.mu.Lock()
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	d.mu.Unlock()
	d.setState(Normalizing)
	norm, err := d.normalizer.Normalize(frame)
	if err != nil {
		d.setState(Acquiring)
		return Result{}, err
	}
	return d.process(ctx, norm), nil
}

func (d *Driver) cycle(ctx context.Context) {
	d.setState(Acquiring)
	frame, err := d.source.Read(ctx)
	if err == nil && frame.Empty() {
		err = iface.ErrNoFrame
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			d.log.Info("Frame source exhausted")
			d.Stop()
			return
		}
		d.gaps.Add(1)
		if errors.Is(err, iface.ErrNoFrame) {
			d.log.Debug("Acquisition gap")
		} else {
			d.log.Warn("Acquisition gap", zap.Error(err))
		}
		return
	}
	d.seq++
	if frame.Seq == 0 {
		frame.Seq = d.seq
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = d.clk.Now()
	}

	d.setState(Normalizing)
	norm, err := d.normalizer.Normalize(frame)
	if err != nil {
		d.gaps.Add(1)
		d.log.Warn("Frame dropped", zap.Uint64("seq", frame.Seq), zap.Error(err))
		return
	}
	d.process(ctx, norm)
}

func (d *Driver) process(ctx context.Context, norm iface.Frame) Result {
	d.setState(Scanning)
	windows := d.windows

	d.setState(Classifying)
	results, failed := d.classifyAll(norm, windows)

	d.setState(Aggregating)
	dets, err := aggregate.Aggregate(d.mode, windows, results, d.cfg.Threshold, d.cfg.TargetLabel)
	if err != nil {
		// mode and windows are fixed at New; this only trips on a programming error
		d.log.Error("Aggregation failed", zap.Error(err))
	}
	rate := d.meter.Tick()

	res := Result{
		RunID:      d.RunID(),
		Seq:        norm.Seq,
		Timestamp:  norm.Timestamp,
		Mode:       d.mode,
		Detections: dets,
		FPS:        rate,
		Windows:    len(windows),
		Failed:     failed,
		Frame:      norm,
	}
	d.frames.Add(1)
	d.setState(Emitted)
	d.mu.Lock()
	d.latest = res
	d.mu.Unlock()
	d.report(res)
	d.hub.publish(res)
	for _, e := range d.emitters {
		if err := e.Emit(ctx, res); err != nil {
			d.log.Warn("Emitter failed", zap.Uint64("seq", res.Seq), zap.Error(err))
		}
	}
	return res
}

type tileJob struct {
	index  int
	window iface.Window
}

// classifyAll returns results in window order; failed tiles are nil.
func (d *Driver) classifyAll(frame iface.Frame, windows []iface.Window) ([]*iface.ClassificationResult, int) {
	results := make([]*iface.ClassificationResult, len(windows))
	var failed atomic.Int32
	classify := func(i int, w iface.Window) {
		r, err := d.classifier.ClassifyWindow(frame, w)
		if err != nil {
			failed.Add(1)
			d.clsErrs.Add(1)
			d.log.Warn("Tile skipped", zap.Int("window", w.Index), zap.Int("x", w.X), zap.Int("y", w.Y), zap.Error(err))
			return
		}
		results[i] = &r
	}

	workers := min(d.cfg.Workers, len(windows))
	if workers <= 1 {
		for i, w := range windows {
			classify(i, w)
		}
		return results, int(failed.Load())
	}

	jobs := make(chan tileJob, workers)
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				classify(job.index, job.window)
			}
		}()
	}
	for i, w := range windows {
		jobs <- tileJob{index: i, window: w}
	}
	close(jobs)
	wg.Wait()
	return results, int(failed.Load())
}

func (d *Driver) report(r Result) {
	if ce := d.log.Check(zap.InfoLevel, "Frame processed"); ce != nil {
		boxes := make([]string, 0, len(r.Detections))
		for _, det := range r.Detections {
			boxes = append(boxes, det.String())
		}
		ce.Write(
			zap.Uint64("seq", r.Seq),
			zap.Strings("detections", boxes),
			zap.Int("failed", r.Failed),
			zap.Float64("fps", r.FPS))
	}
}

func (d *Driver) closeAll() error {
	var err error
	if cerr := d.source.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close source: %w", cerr))
	}
	for _, e := range d.emitters {
		if c, ok := e.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
