// Flightd is the CubeSat mission-sequencing daemon: telemetry acquisition,
// the mission-phase state machine, the sun-pointing controller and the
// authenticated command uplink.
//
// Hardware drivers attach below the internal/hardware interfaces; this
// binary wires the simulated devices so the full mission loop runs on the
// bench.
//
// Usage:
//
//	# Run with defaults
//	flightd
//
//	# Point at a config file and open the ground-test port
//	flightd -config /data/config.yaml -http-port 8420
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flightd/internal/beacon"
	"github.com/fyrsmithlabs/flightd/internal/command"
	"github.com/fyrsmithlabs/flightd/internal/config"
	"github.com/fyrsmithlabs/flightd/internal/hardware"
	"github.com/fyrsmithlabs/flightd/internal/hardware/sim"
	flighthttp "github.com/fyrsmithlabs/flightd/internal/http"
	"github.com/fyrsmithlabs/flightd/internal/logging"
	"github.com/fyrsmithlabs/flightd/internal/mission"
	"github.com/fyrsmithlabs/flightd/internal/orient"
	"github.com/fyrsmithlabs/flightd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// stepInterval is the sequencer polling cadence.
const stepInterval = time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	httpPort := flag.Int("http-port", 8420, "ground-test HTTP port (0 disables)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  flightd           Start the flight daemon\n")
			fmt.Fprintf(os.Stderr, "  flightd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, cancel, *configPath, *httpPort, *logLevel); err != nil {
		log.Fatalf("flightd error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("flightd %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}

func run(ctx context.Context, cancel context.CancelFunc, configPath string, httpPort int, logLevel string) error {
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = logLevel
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}
	if configPath != "" {
		watcher, err := config.NewWatcher(store, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	// Bench hardware. Flight builds swap these for the real drivers.
	devices := benchDevices()

	board := telemetry.NewBlackboard()
	acquisition := telemetry.NewAcquisition(board, telemetry.Sensors{
		Power:        devices.power,
		IMU:          devices.imu,
		Magnetometer: devices.magnetometer,
		Position:     devices.position,
	}, telemetry.DefaultSampleInterval, logger)
	acquisition.Start(ctx)
	defer acquisition.Stop()

	controller := orient.NewController(devices.lightSensors, orient.Actuators{
		RX0: devices.rx0, RX1: devices.rx1, TX0: devices.tx0, TX1: devices.tx1,
	}, store, orient.DefaultTickInterval, logger)

	phases := &mission.Phases{
		Board:           board,
		AntennaBurnwire: devices.antennaBurnwire,
		PayloadBurnwire: devices.payloadBurnwire,
		Orient:          controller,
		Timings:         mission.DefaultTimings(),
		Logger:          logger,
	}
	sequencer := mission.NewSequencer(phases, logger)

	// One transmitter, one duty-cycle budget shared by beacon and replies.
	txLimiter := rate.NewLimiter(rate.Every(2*time.Second), 5)
	bcn := beacon.New(
		store.String(config.KeySatelliteName),
		sequencer, board, devices.radio, txLimiter, beacon.DefaultInterval, logger,
	)
	phases.Beacon = bcn
	// Autonomous cadence; the Comms phase downlinks through the same
	// instance on its own tick.
	go bcn.Run(ctx)

	dispatcher := command.NewDispatcher(devices.radio, store, sequencer, command.Options{
		Limiter: txLimiter,
		Reset: func() {
			logger.Warn("reset requested, shutting down for supervisor restart")
			cancel()
		},
	}, logger)
	go dispatcher.Run(ctx)

	if httpPort > 0 {
		server, err := flighthttp.NewServer(sequencer, board, logger, &flighthttp.Config{
			Host: "localhost",
			Port: httpPort,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("ground-test server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := sequencer.Start(ctx); err != nil {
		return err
	}
	defer sequencer.Stop()

	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sequencer.Step()
		}
	}
}

// devices is the simulated hardware set the bench build wires.
type devices struct {
	power           *sim.PowerMonitor
	imu             *sim.IMU
	magnetometer    *sim.Magnetometer
	position        *sim.PositionSensor
	lightSensors    [4]hardware.LightSensor
	rx0, rx1        *sim.Pin
	tx0, tx1        *sim.Pin
	antennaBurnwire *sim.Burnwire
	payloadBurnwire *sim.Burnwire
	radio           *sim.Radio
}

func benchDevices() *devices {
	return &devices{
		power:        sim.NewPowerMonitor(39500),
		imu:          sim.NewIMU(hardware.Vec3{X: 0.01, Y: 0.02, Z: 0.005}),
		magnetometer: sim.NewMagnetometer(hardware.Vec3{X: 21, Y: -4, Z: 43}),
		position:     sim.NewPositionSensor(hardware.Vec3{}),
		lightSensors: [4]hardware.LightSensor{
			sim.NewLightSensor(1200),
			sim.NewLightSensor(90),
			sim.NewLightSensor(300),
			sim.NewLightSensor(150),
		},
		rx0:             sim.NewPin(),
		rx1:             sim.NewPin(),
		tx0:             sim.NewPin(),
		tx1:             sim.NewPin(),
		antennaBurnwire: sim.NewBurnwire(true),
		payloadBurnwire: sim.NewBurnwire(true),
		radio:           sim.NewRadio("LoRa", "FSK"),
	}
}
