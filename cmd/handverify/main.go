// Command handverify checks the health of the upstream telemetry stream:
// it drives a slow sinusoid through the realtime controller, samples the
// stream for a fixed window, and verifies the frame rate and that
// position and effort updates arrive in the same frame. A telemetry CSV
// of the run is written for offline inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/wuji-technology/wujihand-go/telemetry"
	"github.com/wuji-technology/wujihand-go/wujihand"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "handverify:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.String("port", "", "serial port path (default: USB scan)")
	serial := flag.String("serial", "", "device serial number filter")
	duration := flag.Duration("duration", 0, "sampling window (overrides config)")
	out := flag.String("out", "", "telemetry CSV output path (overrides config)")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *serial != "" {
		cfg.SerialNumber = *serial
	}
	if *duration > 0 {
		cfg.Duration = Duration(*duration)
	}
	if *out != "" {
		cfg.Output = *out
	}

	logger := golog.NewDevelopmentLogger("handverify")

	hand, err := wujihand.Open(wujihand.Config{
		Port:         cfg.Port,
		SerialNumber: cfg.SerialNumber,
		Logger:       logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open hand")
	}
	defer hand.Close()

	if !hand.EffortFeedbackSupported() {
		return errors.Errorf("firmware %s has no effort feedback; nothing to verify",
			hand.FullSystemVersion())
	}

	sn, err := hand.ReadProductSN(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to read product serial number")
	}

	ctrl, err := hand.RealtimeController(context.Background(), true, nil)
	if err != nil {
		return errors.Wrap(err, "failed to attach realtime controller")
	}
	defer ctrl.Close()

	file, err := os.Create(cfg.Output)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	recorder, err := telemetry.NewRecorder(file, telemetry.Header{
		Tool:     "handverify",
		DeviceSN: sn,
		Started:  time.Now(),
	})
	if err != nil {
		file.Close()
		return errors.Wrap(err, "failed to write log header")
	}

	logger.Infow("sampling upstream stream", "duration", time.Duration(cfg.Duration), "device", sn)
	stats, err := sampleStream(ctrl, time.Duration(cfg.Duration), cfg.AmplitudeRad, recorder)
	if closeErr := recorder.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	stats.report(os.Stdout)
	fmt.Printf("log:           %s (%d rows)\n", cfg.Output, recorder.Rows())

	if err := stats.verdict(cfg.MinRateHz, cfg.MaxRateHz, cfg.MinSyncRatio); err != nil {
		return err
	}
	fmt.Println("verdict:       PASS")
	return nil
}

// sampleStream polls the upstream cache faster than frames can arrive,
// recording each new frame exactly once, while commanding a slow
// sinusoid so both position and effort are in motion.
func sampleStream(ctrl *wujihand.RealtimeController, window time.Duration, amplitude float64, rec *telemetry.Recorder) (*frameStats, error) {
	stats := &frameStats{}
	begin := time.Now()
	deadline := begin.Add(window)

	var lastVersion uint64
	for time.Now().Before(deadline) {
		phase := 2 * math.Pi * 0.5 * time.Since(begin).Seconds()
		target := amplitude * math.Sin(phase)
		if err := ctrl.SetJointTargetPositions(wujihand.UniformGrid(target)); err != nil {
			return nil, errors.Wrap(err, "target update failed")
		}

		version, err := ctrl.UpstreamVersion()
		if err != nil && !errors.Is(err, wujihand.ErrNoCachedValue) {
			return nil, errors.Wrap(err, "upstream poll failed")
		}
		if err == nil && version != lastVersion {
			lastVersion = version
			s, err := telemetry.Capture(ctrl)
			if err != nil {
				return nil, errors.Wrap(err, "telemetry capture failed")
			}
			stats.observe(s)
			if err := rec.Record(s); err != nil {
				return nil, errors.Wrap(err, "log write failed")
			}
		}
		time.Sleep(100 * time.Microsecond)
	}

	if stats.frames == 0 {
		return nil, errors.New("no upstream frames received")
	}
	return stats, nil
}
