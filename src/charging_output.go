package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ryansname/chargectl/src/controller"
)

// ErrNoOutput is returned when a charger has no set-current entity configured
var ErrNoOutput = errors.New("no set-current entity configured")

// ErrCannotStop is returned when power is below the minimum current but the
// charger has no switch to stop it. The minimum current is written instead.
var ErrCannotStop = errors.New("charger cannot be switched off")

// ChargerOutput holds the entities written to control one charger
type ChargerOutput struct {
	SetCurrentEntity string
	ActiveEntity     string
}

// serviceCaller is the part of MQTTSender used to write to chargers
type serviceCaller interface {
	CallServiceSync(ctx context.Context, domain, service, entityID string, data map[string]any) error
}

// mqttApplier writes charging power to Home Assistant as a charging current
type mqttApplier struct {
	caller serviceCaller

	mu      sync.Mutex
	outputs map[controller.ChargerID]ChargerOutput
	config  OutputConfig
}

func newMQTTApplier(caller serviceCaller, cfg *Config) *mqttApplier {
	return &mqttApplier{
		caller:  caller,
		outputs: chargerOutputs(cfg),
		config:  cfg.Output,
	}
}

// Update switches to the entities and limits of a reloaded config
func (a *mqttApplier) Update(cfg *Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputs = chargerOutputs(cfg)
	a.config = cfg.Output
}

func chargerOutputs(cfg *Config) map[controller.ChargerID]ChargerOutput {
	return map[controller.ChargerID]ChargerOutput{
		controller.Wallbox: {SetCurrentEntity: cfg.WallboxSetCurrent, ActiveEntity: cfg.WallboxActive},
		controller.Vehicle: {SetCurrentEntity: cfg.VehicleSetCurrent, ActiveEntity: cfg.VehicleActive},
	}
}

// wattsToAmps converts power to a whole charging current, clamped to the
// maximum. Results below the minimum mean the charger should stop.
func wattsToAmps(watts int, config OutputConfig) int {
	if watts <= 0 {
		return 0
	}
	amps := int(math.Floor(float64(watts) / (config.Voltage * float64(config.Phases))))
	return min(amps, config.MaxCurrentA)
}

func entityDomain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// Apply sets the charger current for watts, or switches charging off when
// watts is below the minimum current. Chargers without a switch are set to the
// minimum current and reported as rejected.
func (a *mqttApplier) Apply(ctx context.Context, id controller.ChargerID, watts int) controller.ApplyResult {
	a.mu.Lock()
	output, ok := a.outputs[id]
	config := a.config
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, config.ApplyTimeout)
	defer cancel()

	if !ok || output.SetCurrentEntity == "" {
		// Nothing to switch off on a charger we cannot control
		if watts == 0 {
			return controller.ResultFromError(id, watts, nil)
		}
		return controller.ResultFromError(id, watts, fmt.Errorf("%s: %w", id, ErrNoOutput))
	}

	amps := wattsToAmps(watts, config)
	canSwitch := entityDomain(output.ActiveEntity) == "switch"

	if amps < config.MinCurrentA || amps == 0 {
		if canSwitch {
			err := a.caller.CallServiceSync(ctx, "switch", "turn_off", output.ActiveEntity, nil)
			return controller.ResultFromError(id, watts, err)
		}
		// Lowest current the charger accepts, so it never stays above the target
		err := a.setCurrent(ctx, output.SetCurrentEntity, config.MinCurrentA)
		if err == nil && config.MinCurrentA > 0 {
			err = fmt.Errorf("%s at %d A: %w", id, config.MinCurrentA, ErrCannotStop)
		}
		return controller.ResultFromError(id, watts, err)
	}

	err := a.setCurrent(ctx, output.SetCurrentEntity, amps)
	if err == nil && canSwitch {
		err = a.caller.CallServiceSync(ctx, "switch", "turn_on", output.ActiveEntity, nil)
	}
	return controller.ResultFromError(id, watts, err)
}

// setCurrent writes amps with the service matching the entity domain
func (a *mqttApplier) setCurrent(ctx context.Context, entityID string, amps int) error {
	switch domain := entityDomain(entityID); domain {
	case "select", "input_select":
		return a.caller.CallServiceSync(ctx, domain, "select_option", entityID,
			map[string]any{"option": strconv.Itoa(amps)})
	case "input_number":
		return a.caller.CallServiceSync(ctx, domain, "set_value", entityID,
			map[string]any{"value": amps})
	default:
		return a.caller.CallServiceSync(ctx, "number", "set_value", entityID,
			map[string]any{"value": amps})
	}
}
