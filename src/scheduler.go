package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ryansname/chargectl/src/controller"
	"github.com/ryansname/chargectl/src/samples"
	"github.com/ryansname/chargectl/src/tariff"
)

// runEvery calls fn once per period until ctx is cancelled
func runEvery(ctx context.Context, clk clock.Clock, period time.Duration, fn func(now time.Time)) {
	ticker := clk.Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(clk.Now())
		case <-ctx.Done():
			return
		}
	}
}

// sampler records one grid power sample per call
type sampler struct {
	store      *ConfigStore
	states     *StateCache
	buffer     *samples.Buffer
	classifier *tariff.Classifier
	metrics    *metricsSink
}

// Sample reads the grid power entity and appends a tagged sample.
// Nothing is recorded while no grid power entity is configured.
func (s *sampler) Sample(now time.Time) {
	cfg := s.store.Get()
	if cfg.GridPowerEntity == "" {
		return
	}

	local := now.In(cfg.Location())
	grid := s.states.ReadWatts(cfg.GridPowerEntity)
	s.buffer.Record(local, grid, s.classifier.TransitionAt(local), cfg.Caps())
	if s.metrics != nil {
		s.metrics.ObserveSample(grid != nil)
	}
}

// samplerWorker samples grid power every sample period
func samplerWorker(ctx context.Context, clk clock.Clock, period time.Duration, s *sampler) {
	logger.Infof("Sampler worker started (period %v, capacity %d)", period, s.buffer.Capacity())
	runEvery(ctx, clk, period, s.Sample)
	logger.Info("Sampler worker stopped")
}

// controllerWorker runs a controller tick every control period
func controllerWorker(
	ctx context.Context,
	clk clock.Clock,
	period time.Duration,
	store *ConfigStore,
	ctrl *controller.Controller,
	metrics *metricsSink,
) {
	logger.Infof("Controller worker started (period %v)", period)
	runEvery(ctx, clk, period, func(now time.Time) {
		result, ok := ctrl.Tick(ctx, now.In(store.Get().Location()))
		if !ok {
			logger.Debug("controller: insufficient data, skipping tick")
			return
		}
		if metrics != nil {
			metrics.ObserveApply(result.Applied)
		}
	})
	logger.Info("Controller worker stopped")
}

// tariffInfoWorker publishes the calendar and energy info sensors at start
// and then every period, which also covers the hourly and midnight changes
func tariffInfoWorker(
	ctx context.Context,
	clk clock.Clock,
	period time.Duration,
	store *ConfigStore,
	classifier *tariff.Classifier,
	publisher *haPublisher,
) {
	logger.Info("Tariff info worker started")

	publish := func(now time.Time) {
		local := now.In(store.Get().Location())
		if err := publisher.PublishCalendarInfo(tariff.CalendarInfoAt(local)); err != nil {
			logger.Errorf("Failed to publish calendar info: %v", err)
		}
		if err := publisher.PublishEnergyInfo(classifier.EnergyInfoAt(local)); err != nil {
			logger.Errorf("Failed to publish energy info: %v", err)
		}
	}

	publish(clk.Now())
	runEvery(ctx, clk, period, publish)
	logger.Info("Tariff info worker stopped")
}
