package cmd

import (
	"EdgeScan/geometry"
	iface "EdgeScan/interface"
	"EdgeScan/overlay"
	"EdgeScan/overlay/window"
	"EdgeScan/snapshot"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type captureOptions struct {
	Width        int
	Height       int
	PreCountdown time.Duration
	Countdown    int
	Dir          string
	Start        int
	Show         bool
}

var captureOpts captureOptions

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Count down, then save the centered crop of one frame as a training image",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("dir") {
			captureOpts.Dir = cfg.Capture.SnapshotDir
		}
		if !cmd.Flags().Changed("show") {
			captureOpts.Show = cfg.Capture.Show
		}
		path, err := captureImage(cmd.Context(), captureOpts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Image saved to:", path)
		return nil
	},
}

func init() {
	f := captureCmd.Flags()
	f.IntVar(&captureOpts.Width, "width", 96, "crop width")
	f.IntVar(&captureOpts.Height, "height", 96, "crop height")
	f.DurationVar(&captureOpts.PreCountdown, "precountdown", 2*time.Second, "settle time before the countdown starts")
	f.IntVar(&captureOpts.Countdown, "countdown", 5, "seconds to count down from")
	f.StringVar(&captureOpts.Dir, "dir", ".", "directory for numbered images")
	f.IntVar(&captureOpts.Start, "start", 0, "first file number to try")
	f.BoolVar(&captureOpts.Show, "show", false, "preview with the crop outlined")
	rootCmd.AddCommand(captureCmd)
}

// settler is implemented by sources that can discard warm-up frames.
type settler interface {
	Settle(ctx context.Context, d time.Duration)
}

func captureImage(ctx context.Context, o captureOptions) (string, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return "", iface.ConfigErrorf("width/height", "crop %dx%d must be positive", o.Width, o.Height)
	}
	rot, err := geometry.ParseRotation(cfg.Pipeline.Rotation)
	if err != nil {
		return "", err
	}
	namer := snapshot.NewFileNamer(o.Dir, o.Start)

	src := newSource(cfg.Capture)
	if err := src.Open(); err != nil {
		return "", &iface.InitializationError{Component: "frame source", Err: err}
	}
	defer src.Close()
	if err := src.Configure(cfg.Pipeline.CaptureWidth, cfg.Pipeline.CaptureHeight); err != nil {
		return "", &iface.InitializationError{Component: "frame source", Err: err}
	}
	if s, ok := src.(settler); ok && o.PreCountdown > 0 {
		s.Settle(ctx, o.PreCountdown)
	}

	var preview *overlay.Annotator
	if o.Show {
		win := window.New("Frame")
		defer win.Close()
		preview = overlay.NewAnnotator(win)
	}

	bar := progressbar.NewOptions(o.Countdown,
		progressbar.OptionSetDescription("Capturing in"),
		progressbar.OptionShowCount(),
	)
	remaining := o.Countdown
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var last iface.Frame
	for {
		frame, err := src.Read(ctx)
		if errors.Is(err, io.EOF) && !last.Empty() {
			// replay ran out; keep the last frame
			break
		}
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, iface.ErrNoFrame):
			continue
		case err != nil:
			return "", err
		}
		if rot != geometry.None {
			frame = iface.FrameFromImage(rot.Apply(frame.ToImage()))
		}
		last = frame
		if preview != nil {
			if err := showCountdown(preview, frame, o, remaining); err != nil {
				return "", err
			}
		}
		if remaining <= 0 {
			break
		}
		select {
		case <-tick.C:
			remaining--
			_ = bar.Add(1)
		default:
		}
	}
	_ = bar.Finish()

	if last.Width < o.Width || last.Height < o.Height {
		return "", fmt.Errorf("frame %dx%d smaller than crop %dx%d", last.Width, last.Height, o.Width, o.Height)
	}
	x, y := geometry.CenterOffset(last.Width, last.Height, o.Width, o.Height)
	crop, err := last.SubImage(image.Rect(x, y, x+o.Width, y+o.Height))
	if err != nil {
		return "", err
	}
	return namer.Save(crop)
}

// showCountdown draws the crop outline and the remaining seconds. The
// annotator draws on copies, so frame itself stays clean for the crop.
func showCountdown(a *overlay.Annotator, frame iface.Frame, o captureOptions, remaining int) error {
	view := frame
	x, y := geometry.CenterOffset(view.Width, view.Height, o.Width, o.Height)
	green := color.NRGBA{G: 0xff, A: 0xff}
	if err := a.DrawRectangle(&view, image.Rect(x, y, x+o.Width, y+o.Height), green); err != nil {
		return err
	}
	center := image.Pt(view.Width/2-5, view.Height/2)
	if err := a.DrawText(&view, strconv.Itoa(remaining), center, overlay.White); err != nil {
		return err
	}
	return a.Present(view)
}
