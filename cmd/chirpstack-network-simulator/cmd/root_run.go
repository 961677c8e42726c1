package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator"
	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator/amqp"
	"github.com/brocaar/chirpstack-network-simulator/internal/backend/simulator/mqtt"
	"github.com/brocaar/chirpstack-network-simulator/internal/band"
	"github.com/brocaar/chirpstack-network-simulator/internal/config"
	"github.com/brocaar/chirpstack-network-simulator/internal/controller"
	"github.com/brocaar/chirpstack-network-simulator/internal/ingress"
	"github.com/brocaar/chirpstack-network-simulator/internal/monitoring"
	"github.com/brocaar/chirpstack-network-simulator/internal/phy"
	"github.com/brocaar/chirpstack-network-simulator/internal/shard"
	"github.com/brocaar/chirpstack-network-simulator/internal/status"
	"github.com/brocaar/chirpstack-network-simulator/internal/storage"
	"github.com/brocaar/chirpstack-network-simulator/internal/tracker"
)

var statisticsOutput io.Writer = os.Stdout

// core holds the running simulator components. Either pool or tracker is
// set, depending on the number of configured workers.
type core struct {
	pool    *shard.Pool
	tracker *tracker.Tracker
	store   *status.Store
	server  *ingress.Server
}

func run(cmd *cobra.Command, args []string) error {
	var c core

	tasks := []func() error{
		setLogLevel,
		setupBand,
		setRXParameters,
		printStartMessage,
		setupMonitoring,
		setupStorage,
		setEventBackend,
		setupCore(&c),
		startIngress(&c),
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var poolDone <-chan struct{}
	if c.pool != nil {
		poolDone = c.pool.Done()
	}

	select {
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received")
	case err := <-c.server.Err():
		log.WithError(err).Error("simulation aborted")
	case <-poolDone:
		log.WithError(c.pool.Err()).Error("simulation aborted")
	}

	go func() {
		log.Warning("stopping chirpstack-network-simulator")
		if err := stop(&c); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	if config.C.General.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func setupBand() error {
	if err := band.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup band error")
	}

	return nil
}

func setRXParameters() error {
	defaults := band.Band().GetDefaults()

	if config.C.NetworkServer.NetworkSettings.RX2DR == -1 {
		config.C.NetworkServer.NetworkSettings.RX2DR = defaults.RX2DataRate
	}

	if config.C.NetworkServer.NetworkSettings.RX2Frequency == -1 {
		config.C.NetworkServer.NetworkSettings.RX2Frequency = int64(defaults.RX2Frequency)
	}

	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"band":    config.C.NetworkServer.Band.Name,
		"workers": config.C.Simulator.Workers,
		"backend": config.C.NetworkServer.EventBackend.Type,
	}).Info("starting ChirpStack Network Simulator")
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupStorage() error {
	if config.C.Redis.URL == "" && len(config.C.Redis.Servers) == 0 {
		log.Info("no redis configured, statistics export disabled")
		return nil
	}

	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setEventBackend() error {
	var err error
	var backend simulator.Simulator

	switch config.C.NetworkServer.EventBackend.Type {
	case "mqtt":
		backend, err = mqtt.NewBackend(config.C)
	case "amqp":
		backend, err = amqp.NewBackend(config.C)
	default:
		return fmt.Errorf("unexpected event backend type: %s", config.C.NetworkServer.EventBackend.Type)
	}

	if err != nil {
		return errors.Wrap(err, "setup event backend error")
	}

	simulator.SetBackend(backend)
	return nil
}

func txProfile() phy.TXParams {
	conf := config.C.Simulator.PHY
	p := phy.DefaultTXParams()
	p.BandwidthHz = conf.Bandwidth
	p.CodingRate = conf.CodingRate
	p.PreambleSymbols = conf.PreambleSymbols
	p.HeaderDisabled = conf.HeaderDisabled
	p.CRCEnabled = conf.CRCEnabled
	return p
}

func setupCore(c *core) func() error {
	return func() error {
		var handlers []ingress.Handler
		profile := txProfile()

		if config.C.Simulator.Workers > 1 {
			c.pool = shard.NewPool(config.C.Simulator.Workers, profile)
			c.pool.Start(context.Background())
			handlers = append(handlers, c.pool)
		} else {
			c.tracker = tracker.New(profile)
			handlers = append(handlers, c.tracker)
		}

		settings := config.C.NetworkServer.NetworkSettings
		c.store = status.NewStore(settings.RX2DR, uint32(settings.RX2Frequency), simulator.Backend())

		linkCheck := controller.NewLinkCheckComponent()
		linkCheck.NoiseBandwidth = float64(config.C.Simulator.PHY.Bandwidth)
		linkCheck.NoiseFigure = config.C.Simulator.PHY.NoiseFigure

		ctrl := controller.New(
			c.store,
			time.Duration(settings.RX1Delay)*time.Second,
			settings.RX1DROffset,
			controller.NewACKComponent(),
			linkCheck,
		)

		c.server = ingress.NewServer(append(handlers, c.store, ctrl)...)
		return nil
	}
}

func startIngress(c *core) func() error {
	return func() error {
		c.server.Start(simulator.Backend().EventChan())
		return nil
	}
}

// stop closes the event backend first, so that the ingress server consumes
// the remaining events until the event channel is closed.
func stop(c *core) error {
	if err := simulator.Backend().Close(); err != nil {
		return errors.Wrap(err, "close event backend error")
	}

	c.server.Stop()

	t := c.tracker
	if c.pool != nil {
		var err error
		t, err = c.pool.Snapshot()
		if err != nil {
			return errors.Wrap(err, "snapshot tracker error")
		}
		if err := c.pool.Close(); err != nil {
			log.WithError(err).Error("close shard pool error")
		}
	}

	summary, err := t.Summarize(config.C.Simulator.StatisticsStart, c.server.Now())
	if err != nil {
		if errors.Cause(err) == tracker.ErrNoTraffic || errors.Cause(err) == tracker.ErrInvalidInterval {
			log.WithError(err).Warning("no statistics to report")
			return nil
		}
		return errors.Wrap(err, "aggregate statistics error")
	}

	fmt.Fprintln(statisticsOutput, summary.String())

	if rc := storage.RedisClient(); rc != nil {
		if err := storage.SaveMetrics(context.Background(), rc, "simulation", storage.MetricsRecord{
			Time:    time.Now(),
			Metrics: summary.Metrics(),
		}); err != nil {
			return errors.Wrap(err, "save statistics error")
		}
	}

	return nil
}
