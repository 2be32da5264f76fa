package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpdu/powerd/internal/api"
	"github.com/openpdu/powerd/internal/auth"
	"github.com/openpdu/powerd/internal/command"
	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/health"
	"github.com/openpdu/powerd/internal/hw"
	"github.com/openpdu/powerd/internal/latch"
	pdlog "github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/relay"
	"github.com/openpdu/powerd/internal/rules"
	"github.com/openpdu/powerd/internal/sched"
	"github.com/openpdu/powerd/internal/sensor"
	"github.com/openpdu/powerd/internal/stream"
	"github.com/openpdu/powerd/internal/sysmon"
	"github.com/openpdu/powerd/internal/telemetry"
	pdtls "github.com/openpdu/powerd/internal/tls"
	"github.com/openpdu/powerd/internal/tsdb"
	"github.com/openpdu/powerd/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("powerd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	pdlog.Configure(pdlog.Config{
		Level:   "info",
		Service: "powerd",
		Version: version.Version,
	})
	logger := pdlog.WithComponent("daemon")

	settings, err := config.SettingsFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "settings.load_failed").Msg("invalid environment")
	}

	pdlog.SetLevel(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(settings.DataDir, settings.DefaultConfigPath); err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "startup.check_failed").Msg("startup checks failed")
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        settings.OtelEnabled,
		ServiceName:    "powerd",
		ServiceVersion: version.Version,
		Environment:    settings.Environment,
		ExporterType:   settings.OtelExporter,
		Endpoint:       settings.OtelEndpoint,
		SamplingRate:   settings.OtelSamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "telemetry.init_failed").Msg("cannot initialize tracing")
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	hardware, err := openHardware(settings)
	if err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "hw.open_failed").Msg("cannot open hardware")
	}

	manager := config.NewManager(settings.DefaultConfigPath, settings.CustomConfigPath, config.DefaultSensors())
	if err := manager.Load(); err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "config.load_failed").Msg("cannot load configuration")
	}
	doc := manager.Get()

	authority := relay.New(hardware, doc.Relays)
	if err := authority.Init(); err != nil {
		logger.Fatal().Err(err).Str(pdlog.FieldEvent, "relay.init_failed").Msg("cannot initialize relays")
	}

	store := latch.Open(ctx, settings.RedisURL, settings.DataDir)

	var rebooter rules.Rebooter = hw.NewWatchdog(settings.WatchdogPath)
	if settings.SimHardware {
		rebooter = simRebooter{}
	}

	engine := rules.New(store, authority, rebooter, doc.Tasks)

	sensors := manager.Sensors()
	sources := make([]string, 0, len(sensors))
	for _, sd := range sensors {
		sources = append(sources, sd.ID)
	}
	cache := sensor.NewCache(sources)
	poller := sensor.NewPoller(cache, buildReaders(sensors, hardware),
		time.Duration(doc.General.SensorPollSeconds)*time.Second)
	poller.OnSample(engine.HandleSample)

	var (
		sink *tsdb.Sink
		tsq  api.TimeseriesQuerier
	)
	if settings.InfluxURL != "" {
		client := tsdb.NewClient(settings.InfluxURL, settings.InfluxOrg, settings.InfluxBucket, settings.InfluxToken)
		sink = tsdb.NewSink(client)
		tsq = client
		poller.OnSample(sink.Enqueue)
	} else {
		logger.Warn().Str(pdlog.FieldEvent, "tsdb.disabled").Msg("no time-series store configured")
	}

	hub := stream.NewHub()

	usage := sysmon.New(settings.DataDir)
	scheduler := sched.New(authority, doc)
	if b, ok := store.(*latch.Badger); ok {
		scheduler.AddHousekeeper(func(ctx context.Context) { b.GC() })
	}
	if sink != nil {
		scheduler.AddHousekeeper(func(ctx context.Context) {
			u := usage.Sample(ctx)
			sink.Enqueue(sensor.Sample{
				Source: "system",
				Fields: map[string]float64{
					"cpu_percent":  u.CPUPercent,
					"mem_percent":  u.MemPercent,
					"disk_percent": u.DiskPercent,
				},
				Timestamp: u.Timestamp,
				Seq:       u.Timestamp.UnixNano(),
			})
		})
	}

	// hot reload fan-out: the manager clones the document per listener
	manager.Subscribe(func(doc config.Document) {
		if err := authority.ApplyConfig(doc.Relays); err != nil {
			logger.Error().Err(err).Str(pdlog.FieldEvent, "config.relay_apply_failed").Msg("relay config not applied")
		}
		engine.ApplyConfig(doc.Tasks)
		scheduler.ApplyConfig(doc)
		poller.SetInterval(time.Duration(doc.General.SensorPollSeconds) * time.Second)
	})

	authSvc := auth.NewService([]byte(settings.JWTSecret), settings.JWTTTL,
		settings.UserPasswordHash, settings.AdminPasswordHash, settings.InternalToken)

	bus := command.New(authority, manager, engine, rebooter, store)

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.StoreChecker(store))
	healthMgr.RegisterChecker(health.SensorChecker(cache))
	if sink != nil {
		healthMgr.RegisterChecker(health.BreakerChecker("tsdb", sink.Breaker()))
	}

	server := api.New(api.Deps{
		Bus:        bus,
		Auth:       authSvc,
		Manager:    manager,
		Cache:      cache,
		Hub:        hub,
		Timeseries: tsq,
		Usage:      usage,
		Health:     healthMgr,
		LogFiles: map[string]string{
			"camera": settings.CameraLogPath,
			"router": settings.RouterLogPath,
		},
	})

	httpSrv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // streams run for the connection lifetime
		IdleTimeout:       120 * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return manager.Watch(gctx) })
	if sink != nil {
		g.Go(func() error { return sink.Run(gctx) })
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str(pdlog.FieldEvent, "daemon.listening").
			Str("addr", settings.ListenAddr).
			Bool("tls", settings.TLSCertFile != "").
			Msg("powerd listening")
		if settings.TLSCertFile != "" {
			if err := pdtls.EnsureCertificates(settings.TLSCertFile, settings.TLSKeyFile); err != nil {
				serveErr <- err
				return
			}
			serveErr <- httpSrv.ListenAndServeTLS(settings.TLSCertFile, settings.TLSKeyFile)
		} else {
			serveErr <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str(pdlog.FieldEvent, "daemon.shutdown").Msg("signal received, shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str(pdlog.FieldEvent, "daemon.serve_failed").Msg("http server failed")
		}
	}

	// shutdown order: stop accepting requests, close live streams, stop the
	// periodic workers (the sink flushes its tail), then release backends
	// and hardware
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	hub.Shutdown(shutdownCtx)

	cancelRun()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("worker shutdown")
	}

	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("latch store close")
	}
	if err := hardware.Close(); err != nil {
		logger.Warn().Err(err).Msg("hardware close")
	}
	logger.Info().Str(pdlog.FieldEvent, "daemon.stopped").Msg("powerd stopped")
}

// closableHardware is what main needs beyond the control interface.
type closableHardware interface {
	hw.Interface
	Close() error
}

func openHardware(settings config.Settings) (closableHardware, error) {
	if settings.SimHardware {
		sim := hw.NewSim()
		attachSimSensors(sim)
		return sim, nil
	}
	return hw.NewPeriph(settings.I2CBus)
}

// attachSimSensors populates the simulated bus so a dev instance reports
// plausible values instead of read errors.
func attachSimSensors(sim *hw.Sim) {
	for _, sd := range config.DefaultSensors() {
		switch sd.Kind {
		case config.SensorPower:
			sim.AttachDevice(sd.BusAddr, hw.NewSimINA260(12.05, 0.42))
		case config.SensorEnvironmental:
			sim.AttachDevice(sd.BusAddr, hw.NewSimSHT30(21.5, 40.0))
		}
	}
}

func buildReaders(sensors []config.SensorDescriptor, hardware hw.Interface) []sensor.Reader {
	readers := make([]sensor.Reader, 0, len(sensors))
	for _, sd := range sensors {
		switch sd.Kind {
		case config.SensorPower:
			readers = append(readers, sensor.NewINA260(sd.ID, sd.BusAddr, hardware))
		case config.SensorEnvironmental:
			readers = append(readers, sensor.NewSHT30(sd.ID, sd.BusAddr, hardware))
		}
	}
	return readers
}

// simRebooter replaces the watchdog in simulated mode: committing the host
// to a reboot from a dev machine would be unfortunate.
type simRebooter struct{}

func (simRebooter) Reboot() error {
	l := pdlog.WithComponent("watchdog")
	l.Warn().
		Str(pdlog.FieldEvent, "watchdog.simulated").
		Msg("reboot requested in simulated mode, ignoring")
	return nil
}
