package cmd

import (
	adhoc "EdgeScan/Adhoc"
	"EdgeScan/config"
	"EdgeScan/emitter"
	proto "EdgeScan/gRPC"
	"EdgeScan/logger"
	"EdgeScan/monitor"
	"EdgeScan/overlay"
	"EdgeScan/overlay/window"
	"EdgeScan/pipeline"
	"EdgeScan/snapshot"
	"EdgeScan/store"
	"EdgeScan/web"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type runOptions struct {
	Device    string
	ReplayDir string
	Loop      bool
	Show      bool
	Mode      string
	Target    string
	Threshold float64
	Workers   int
	Rotation  int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, scan and classify frames until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, &cfg, runOpts)
		return runPipeline(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.Device, "device", "d", "", "camera device path or index")
	f.StringVar(&runOpts.ReplayDir, "replay", "", "replay images from this directory instead of a camera")
	f.BoolVar(&runOpts.Loop, "loop", false, "restart the replay when it runs out")
	f.BoolVar(&runOpts.Show, "show", false, "show annotated frames in a window (q quits)")
	f.StringVarP(&runOpts.Mode, "mode", "m", "", "aggregation mode: auto, tiled, whole-frame or detection")
	f.StringVarP(&runOpts.Target, "target", "t", "", "label to report in tiled mode")
	f.Float64Var(&runOpts.Threshold, "threshold", 0, "minimum score for a detection")
	f.IntVarP(&runOpts.Workers, "workers", "w", 0, "parallel window classifiers")
	f.IntVar(&runOpts.Rotation, "rotation", 0, "camera rotation: 0, 90, 180 or 270")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags lets explicitly set flags win over file and environment.
func applyRunFlags(cmd *cobra.Command, c *config.Config, o runOptions) {
	f := cmd.Flags()
	if f.Changed("device") {
		c.Capture.Device = o.Device
	}
	if f.Changed("replay") {
		c.Capture.ReplayDir = o.ReplayDir
	}
	if f.Changed("loop") {
		c.Capture.Loop = o.Loop
	}
	if f.Changed("show") {
		c.Capture.Show = o.Show
	}
	if f.Changed("mode") {
		c.Pipeline.Mode = o.Mode
	}
	if f.Changed("target") {
		c.Pipeline.TargetLabel = o.Target
	}
	if f.Changed("threshold") {
		c.Pipeline.Threshold = o.Threshold
	}
	if f.Changed("workers") {
		c.Pipeline.Workers = o.Workers
	}
	if f.Changed("rotation") {
		c.Pipeline.Rotation = o.Rotation
	}
}

func runPipeline(parent context.Context, c config.Config) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}
	log := logger.Log()
	if cpus := runtime.NumCPU(); c.Pipeline.Workers > cpus {
		log.Warn("workersNum exceeds CPU cores, which may lead to performance degradation",
			zap.Int("workers", c.Pipeline.Workers), zap.Int("cpus", cpus))
	}

	det, err := newDetector(c.Model, log)
	if err != nil {
		return err
	}
	defer det.Destroy()
	info := det.ModelInfo()

	driver, err := pipeline.New(c.Pipeline, newSource(c.Capture), det)
	if err != nil {
		return err
	}
	driver.SetLogger(log.Named("pipeline"))

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// emitters the driver would close; released here if Run never starts
	var pending []io.Closer
	ran := false
	defer func() {
		if ran {
			return
		}
		for _, c := range pending {
			err = multierr.Append(err, c.Close())
		}
	}()

	stream := &overlay.Stream{}
	driver.AddEmitter(&overlay.Emitter{Out: stream})
	if c.Capture.Show {
		win := window.New("EdgeScan")
		defer win.Close()
		driver.AddEmitter(&overlay.Emitter{Out: win})
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-win.Quit():
				log.Info("Quit key pressed")
				driver.Stop()
			case <-ctx.Done():
			}
		}()
	}

	var history web.History
	if c.Store.Enabled {
		db, err := store.Open(c.Store.Path)
		if err != nil {
			return fmt.Errorf("open detection log: %w", err)
		}
		driver.AddEmitter(db)
		pending = append(pending, db)
		history = db
	}

	if c.MQTT.Enabled {
		mq := emitter.NewMQTTEmitter(c.MQTT, log)
		if err := mq.Connect(ctx); err != nil {
			log.Warn("MQTT not connected yet, results are dropped until it is", zap.Error(err))
		}
		driver.AddEmitter(mq)
		pending = append(pending, mq)
	}

	mon := monitor.New(driver.Stats, log)
	if c.Monitor.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Start(ctx, c.Monitor.Port)
		}()
	}

	if c.Server.WebPort > 0 {
		srv := web.NewServer(driver, det, log)
		srv.Frames = stream
		srv.History = history
		srv.Snapshots = snapshot.NewFileNamer(c.Capture.SnapshotDir, 0)
		srv.Requests = mon.HTTPTotal
		srv.Start(ctx, c.Server.WebPort)
	}

	if c.Server.RPCPort > 0 {
		gs, err := proto.StartGRPCServer(c.Server.RPCPort, proto.NewServer(driver, det, mon.RPCTotal, log))
		if err != nil {
			return err
		}
		defer gs.GracefulStop()
	}

	if c.Registry.Enabled {
		ip, err := GetOutboundIP()
		if err != nil {
			log.Warn("Failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			reg := adhoc.NewRegistrar(adhoc.RegServerConfig{Addr: c.Registry.Host, Port: c.Registry.Port}, ip, c.Server.WebPort, instanceClass(c), log)
			reg.Model = info.Name
			reg.Stats = driver.Stats
			wg.Add(1)
			go func() {
				defer wg.Done()
				reg.Run(ctx)
			}()
		}
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	fmt.Fprintln(os.Stderr, strings.Repeat("#", 64))
	fmt.Fprintf(os.Stderr, " Model: %s (%s)  Mode: %s  Windows: %d\n", info.Name, info.Kind, driver.Mode(), len(driver.Windows()))
	fmt.Fprintln(os.Stderr, strings.Repeat("#", 64))

	ran = true
	err = driver.Run(ctx)
	cancel()
	return err
}
