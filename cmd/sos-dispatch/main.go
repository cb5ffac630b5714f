package main

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mr1hm/acs-fasttrack/internal/client"
	"github.com/mr1hm/acs-fasttrack/internal/clock"
	"github.com/mr1hm/acs-fasttrack/internal/config"
	"github.com/mr1hm/acs-fasttrack/internal/connectivity"
	"github.com/mr1hm/acs-fasttrack/internal/dispatch"
	"github.com/mr1hm/acs-fasttrack/internal/events"
	"github.com/mr1hm/acs-fasttrack/internal/geocode"
	"github.com/mr1hm/acs-fasttrack/internal/gesture"
	"github.com/mr1hm/acs-fasttrack/internal/location"
	"github.com/mr1hm/acs-fasttrack/internal/logging"
	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.SetupTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	sess, err := session.FromToken(cfg.API.Token)
	if err != nil {
		logging.Fatalf("Failed to load session (set SOS_TOKEN): %v", err)
	}
	slog.Info("SOS client starting", "patient_id", sess.PatientID, "backend", cfg.API.BaseURL)

	hospital := models.Coordinates{Latitude: cfg.Hospital.Latitude, Longitude: cfg.Hospital.Longitude}

	route, err := location.ParseRoute(cfg.Location.ReplayRoute)
	if err != nil {
		logging.Fatalf("Invalid LOCATION_REPLAY_ROUTE: %v", err)
	}

	var geocoder location.Geocoder
	if cfg.Geocoder.APIKey != "" {
		geocoder = geocode.New(cfg.Geocoder.BaseURL, cfg.Geocoder.APIKey, cfg.Geocoder.Timeout)
	}

	trackerCfg := location.DefaultConfig(hospital)
	trackerCfg.Normal.Interval = cfg.Location.NormalInterval
	trackerCfg.Normal.DistanceFilterM = cfg.Location.NormalDistanceM
	trackerCfg.Emergency.Interval = cfg.Location.EmergencyInterval
	trackerCfg.Emergency.DistanceFilterM = cfg.Location.EmergencyDistanceM
	trackerCfg.GeocodeTimeout = cfg.Geocoder.Timeout
	tracker := location.NewTracker(location.NewReplayProvider(route), geocoder, trackerCfg)

	backend := client.New(cfg.API.BaseURL, sess, client.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}))
	monitor := connectivity.NewMonitor(backend, cfg.Connectivity.Interval, cfg.Connectivity.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := events.NewBroadcaster[dispatch.Event](events.DefaultBuffer)
	ctrl := dispatch.NewController(dispatch.Config{
		SubmitTimeout:   cfg.Dispatch.SubmitTimeout,
		CancelTimeout:   cfg.Dispatch.CancelTimeout,
		Hospital:        hospital,
		EmergencyNumber: cfg.Dispatch.EmergencyNumber,
		EmergencyType:   cfg.Dispatch.EmergencyType,
	}, dispatch.Deps{
		Session:      sess,
		Client:       backend,
		Location:     tracker,
		Connectivity: monitor,
		Dialer:       dispatch.LogDialer{},
		Clock:        clock.Real{},
		Events:       feed,
	})

	gate := gesture.NewHoldGate(clock.Real{}, cfg.Dispatch.HoldDuration, cfg.Dispatch.TickInterval,
		func() {
			if err := ctrl.Confirm(ctx); err != nil {
				slog.Warn("SOS not sent", "error", err)
			}
		},
		gesture.WithGuard(ctrl.Enabled),
		gesture.WithFeedback(consoleFeedback{out: os.Stdout}),
	)

	monitor.OnChange(func(online bool) {
		if !online {
			printf(os.Stdout, "! Offline: SOS requests will be refused, call %s instead\n", cfg.Dispatch.EmergencyNumber)
		}
	})

	tracker.Start(ctx)
	monitor.Start(ctx)

	con := &console{
		ctrl:    ctrl,
		gate:    gate,
		tracker: tracker,
		in:      bufio.NewScanner(os.Stdin),
		out:     os.Stdout,
	}

	printerDone := make(chan struct{})
	_, feedCh := feed.Subscribe()
	go func() {
		defer close(printerDone)
		con.printEvents(feedCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	con.printHelp()
	done := make(chan struct{})
	go func() {
		defer close(done)
		con.run(ctx)
	}()

	select {
	case <-quit:
	case <-done:
	}

	slog.Info("shutting down...")

	gate.Reset()
	ctrl.End()
	tracker.Stop()
	cancel()
	monitor.Stop()
	feed.Close()
	<-printerDone

	slog.Info("shutdown complete")
}
