// Package controller turns the sampled grid power and tariff caps into a
// charging power target once per control period.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/fatih/structs"
	"github.com/sirupsen/logrus"

	"github.com/ryansname/chargectl/src/charger"
	"github.com/ryansname/chargectl/src/governor"
	"github.com/ryansname/chargectl/src/samples"
)

// Snapshot is what one tick computed, pushed to the sink every tick
type Snapshot struct {
	AvgGridPowerW   int `structs:"avg_grid_power_w" json:"avg_grid_power_w"`
	EffectiveLimitW int `structs:"effective_limit_w" json:"effective_limit_w"`
	AvailablePowerW int `structs:"available_power_w" json:"available_power_w"`
	TargetPowerW    int `structs:"target_power_w" json:"target_power_w"`
	CurrentBlock    int `structs:"current_block" json:"current_block"`
	NextBlock       int `structs:"next_block" json:"next_block"`
	MinutesToNext   int `structs:"minutes_to_next" json:"minutes_to_next"`
}

// Fields returns the snapshot as a mapping keyed by sensor key
func (s Snapshot) Fields() map[string]any {
	return structs.Map(s)
}

// Sink receives a snapshot after every tick that had data
type Sink interface {
	Push(snapshot Snapshot)
}

// SampleSource is the read side of the sample buffer
type SampleSource interface {
	Latest() (samples.Sample, bool)
	WindowedAverage(now time.Time, window time.Duration) (int, bool)
}

// Config holds the controller tuning and the charger entities it evaluates
type Config struct {
	Window       time.Duration
	Ramp         governor.RampConfig
	Anticipation governor.AnticipationConfig
	Wallbox      charger.WallboxEntities
	Vehicle      charger.VehicleEntities
}

// DefaultConfig averages 15 minutes of samples and uses the default ramp limits
func DefaultConfig() Config {
	return Config{
		Window:       15 * time.Minute,
		Ramp:         governor.DefaultRampConfig(),
		Anticipation: governor.DefaultAnticipationConfig(),
	}
}

// TickResult reports everything a tick decided
type TickResult struct {
	Snapshot    Snapshot
	Wallbox     charger.State
	Vehicle     charger.State
	FinalPowerW int
	Applied     []ApplyResult
}

// Controller owns the ramp state. It is created fresh on every start so the
// ramp always begins at 0 W.
type Controller struct {
	mu      sync.Mutex
	config  Config
	samples SampleSource
	reader  charger.Reader
	sink    Sink
	applier Applier
	logger  *logrus.Logger
	ramp    governor.RampState
}

// New creates a controller. applier may be nil to compute without applying.
func New(
	config Config,
	source SampleSource,
	reader charger.Reader,
	sink Sink,
	applier Applier,
	logger *logrus.Logger,
) *Controller {
	return &Controller{
		config:  config,
		samples: source,
		reader:  reader,
		sink:    sink,
		applier: applier,
		logger:  logger,
	}
}

// UpdateConfig replaces the configuration used from the next tick on
func (c *Controller) UpdateConfig(config Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

// LastTarget returns the most recent ramped target
func (c *Controller) LastTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.Last
}

// Tick runs one control cycle. It returns false when there was not enough
// data, in which case nothing is pushed or applied and the target is kept.
// Hardware writes happen after the lock is released.
func (c *Controller) Tick(ctx context.Context, now time.Time) (TickResult, bool) {
	result, ok := c.compute(now)
	if !ok {
		return result, false
	}
	result.Applied = c.apply(ctx, result)
	return result, true
}

// compute advances the ramp and pushes the snapshot
func (c *Controller) compute(now time.Time) (TickResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, ok := c.samples.Latest()
	if !ok {
		return TickResult{}, false
	}
	avg, ok := c.samples.WindowedAverage(now, c.config.Window)
	if !ok {
		return TickResult{}, false
	}

	effective := governor.EffectiveCap(
		latest.CurrentBlockCapW, latest.NextBlockCapW, latest.MinutesToNext, c.config.Anticipation)
	available := governor.AvailablePower(effective, avg)
	target := c.ramp.Update(available, c.config.Ramp)

	result := TickResult{
		Snapshot: Snapshot{
			AvgGridPowerW:   avg,
			EffectiveLimitW: effective,
			AvailablePowerW: available,
			TargetPowerW:    target,
			CurrentBlock:    latest.CurrentBlock,
			NextBlock:       latest.NextBlock,
			MinutesToNext:   latest.MinutesToNext,
		},
		Wallbox: charger.EvaluateWallbox(c.reader, c.config.Wallbox),
		Vehicle: charger.EvaluateVehicle(c.reader, c.config.Vehicle),
	}

	c.logger.Infof("controller: block=%d->%d eff_limit=%dW avg_grid=%dW avail=%dW target=%dW wallbox=%s vehicle=%s",
		latest.CurrentBlock, latest.NextBlock, effective, avg, available, target,
		result.Wallbox.State, result.Vehicle.State)

	if c.sink != nil {
		c.sink.Push(result.Snapshot)
	}

	if result.Wallbox.Available || result.Vehicle.Available {
		result.FinalPowerW = target
	} else {
		c.logger.Debugf("controller: no charger available (wallbox=%v vehicle=%v), applying 0W",
			result.Wallbox.Reasons, result.Vehicle.Reasons)
	}
	return result, true
}

// apply sends the final power to available chargers and 0 W to the rest
func (c *Controller) apply(ctx context.Context, result TickResult) []ApplyResult {
	if c.applier == nil {
		return nil
	}

	outputs := []struct {
		id    ChargerID
		state charger.State
	}{
		{Wallbox, result.Wallbox},
		{Vehicle, result.Vehicle},
	}

	applied := make([]ApplyResult, 0, len(outputs))
	for _, o := range outputs {
		watts := 0
		if o.state.Available {
			watts = result.FinalPowerW
		}
		r := c.applier.Apply(ctx, o.id, watts)
		if r.Status != StatusApplied {
			c.logger.WithFields(logrus.Fields{
				"charger": o.id,
				"watts":   watts,
				"status":  r.Status,
			}).WithError(r.Err).Warn("controller: apply failed")
		}
		applied = append(applied, r)
	}
	return applied
}
