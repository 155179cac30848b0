// Command handmon serves live hand telemetry over HTTP: device identity,
// joint positions, efforts and stream health, for dashboards and quick
// curl checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "handmon:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger := golog.NewDevelopmentLogger("handmon")

	hand, err := wujihand.Open(wujihand.Config{
		Port:         cfg.Port,
		SerialNumber: cfg.SerialNumber,
		Logger:       logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open hand")
	}
	defer hand.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	device, err := readDeviceInfo(ctx, hand)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to read device identity")
	}

	ctrl, err := hand.RealtimeController(context.Background(), true, nil)
	if err != nil {
		return errors.Wrap(err, "failed to attach realtime controller")
	}
	defer ctrl.Close()

	m := newMonitor(device, ctrl)
	stop := make(chan struct{})
	defer close(stop)
	go m.run(time.Duration(cfg.SampleInterval), stop)

	gin.SetMode(gin.ReleaseMode)
	router := buildRouter(m, cfg.AllowOrigins)
	logger.Infow("serving telemetry", "listen", cfg.Listen, "device", device.SerialNumber)
	return router.Run(cfg.Listen)
}

func readDeviceInfo(ctx context.Context, hand *wujihand.Hand) (deviceInfo, error) {
	sn, err := hand.ReadProductSN(ctx)
	if err != nil {
		return deviceInfo{}, err
	}
	handed, err := hand.ReadHandedness(ctx)
	if err != nil {
		return deviceInfo{}, err
	}
	temp, err := hand.ReadTemperature(ctx)
	if err != nil {
		return deviceInfo{}, err
	}
	volts, err := hand.ReadInputVoltage(ctx)
	if err != nil {
		return deviceInfo{}, err
	}

	info := deviceInfo{
		SerialNumber:      sn,
		Firmware:          hand.HandVersion().String(),
		Handedness:        "left",
		Temperature:       temp,
		InputVoltage:      volts,
		EffortFeedback:    hand.EffortFeedbackSupported(),
		ConnectedAtMillis: time.Now().UnixMilli(),
	}
	if handed == 1 {
		info.Handedness = "right"
	}
	if v := hand.FullSystemVersion(); v != (wujihand.FirmwareVersion{}) {
		info.FullSystem = v.String()
	}
	return info, nil
}
