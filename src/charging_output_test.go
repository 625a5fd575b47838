package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/controller"
)

type serviceCall struct {
	Domain, Service, EntityID string
	Data                      map[string]any
}

type fakeCaller struct {
	calls []serviceCall
	err   error
}

func (f *fakeCaller) CallServiceSync(_ context.Context, domain, service, entityID string, data map[string]any) error {
	f.calls = append(f.calls, serviceCall{domain, service, entityID, data})
	return f.err
}

func testOutputConfig() OutputConfig {
	return OutputConfig{Voltage: 230, Phases: 1, MinCurrentA: 6, MaxCurrentA: 16, ApplyTimeout: time.Second}
}

func newTestApplier(caller serviceCaller) *mqttApplier {
	return &mqttApplier{
		caller: caller,
		outputs: map[controller.ChargerID]ChargerOutput{
			controller.Wallbox: {SetCurrentEntity: "number.wallbox_max_current", ActiveEntity: "switch.wallbox_charging"},
			controller.Vehicle: {SetCurrentEntity: "select.mg4_charge_current", ActiveEntity: "binary_sensor.mg4_charging"},
		},
		config: testOutputConfig(),
	}
}

func TestWattsToAmps(t *testing.T) {
	config := testOutputConfig()

	assert.Equal(t, 0, wattsToAmps(0, config))
	assert.Equal(t, 0, wattsToAmps(-100, config))
	assert.Equal(t, 10, wattsToAmps(2300, config))
	assert.Equal(t, 9, wattsToAmps(2299, config))
	assert.Equal(t, 16, wattsToAmps(11000, config), "clamped to max")

	config.Phases = 3
	assert.Equal(t, 10, wattsToAmps(6900, config))
}

func TestApply_SetsNumberAndTurnsOn(t *testing.T) {
	caller := &fakeCaller{}
	result := newTestApplier(caller).Apply(context.Background(), controller.Wallbox, 2300)

	assert.Equal(t, controller.StatusApplied, result.Status)
	require.Len(t, caller.calls, 2)
	assert.Equal(t, serviceCall{"number", "set_value", "number.wallbox_max_current", map[string]any{"value": 10}}, caller.calls[0])
	assert.Equal(t, "turn_on", caller.calls[1].Service)
	assert.Equal(t, "switch.wallbox_charging", caller.calls[1].EntityID)
}

func TestApply_SelectEntityGetsOption(t *testing.T) {
	caller := &fakeCaller{}
	result := newTestApplier(caller).Apply(context.Background(), controller.Vehicle, 3680)

	assert.Equal(t, controller.StatusApplied, result.Status)
	require.Len(t, caller.calls, 1, "binary sensors are never switched")
	assert.Equal(t, serviceCall{"select", "select_option", "select.mg4_charge_current", map[string]any{"option": "16"}}, caller.calls[0])
}

func TestApply_BelowMinimumTurnsOff(t *testing.T) {
	caller := &fakeCaller{}
	result := newTestApplier(caller).Apply(context.Background(), controller.Wallbox, 1000)

	assert.Equal(t, controller.StatusApplied, result.Status)
	require.Len(t, caller.calls, 1)
	assert.Equal(t, serviceCall{"switch", "turn_off", "switch.wallbox_charging", nil}, caller.calls[0])
}

func TestApply_BelowMinimumWithoutSwitchSetsMinimum(t *testing.T) {
	caller := &fakeCaller{}
	a := newTestApplier(caller)

	assert.Equal(t, controller.StatusApplied, a.Apply(context.Background(), controller.Vehicle, 3680).Status)

	for _, watts := range []int{1000, 0} {
		result := a.Apply(context.Background(), controller.Vehicle, watts)
		assert.Equal(t, controller.StatusRejected, result.Status, "%d W", watts)
		assert.ErrorIs(t, result.Err, ErrCannotStop)
	}

	assert.Equal(t, []serviceCall{
		{"select", "select_option", "select.mg4_charge_current", map[string]any{"option": "16"}},
		{"select", "select_option", "select.mg4_charge_current", map[string]any{"option": "6"}},
		{"select", "select_option", "select.mg4_charge_current", map[string]any{"option": "6"}},
	}, caller.calls)
}

func TestApply_BelowMinimumWithoutSwitchReportsWriteError(t *testing.T) {
	caller := &fakeCaller{err: ErrPublishTimeout}

	result := newTestApplier(caller).Apply(context.Background(), controller.Vehicle, 0)

	assert.Equal(t, controller.StatusTimeout, result.Status)
	assert.ErrorIs(t, result.Err, ErrPublishTimeout)
	require.Len(t, caller.calls, 1)
}

func TestApply_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want controller.ApplyStatus
	}{
		{"publish timeout", ErrPublishTimeout, controller.StatusTimeout},
		{"deadline", context.DeadlineExceeded, controller.StatusTimeout},
		{"disabled", ErrOutputDisabled, controller.StatusRejected},
		{"not connected", ErrNotConnected, controller.StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestApplier(&fakeCaller{err: tt.err}).Apply(context.Background(), controller.Wallbox, 4000)
			assert.Equal(t, tt.want, result.Status)
			assert.True(t, errors.Is(result.Err, tt.err))
		})
	}
}

func TestApply_UnconfiguredOutput(t *testing.T) {
	caller := &fakeCaller{}
	a := newTestApplier(caller)
	a.outputs[controller.Vehicle] = ChargerOutput{}

	assert.Equal(t, controller.StatusApplied, a.Apply(context.Background(), controller.Vehicle, 0).Status)
	result := a.Apply(context.Background(), controller.Vehicle, 4000)
	assert.Equal(t, controller.StatusRejected, result.Status)
	assert.ErrorIs(t, result.Err, ErrNoOutput)
	assert.Empty(t, caller.calls)
}

func TestApply_UpdateSwitchesEntities(t *testing.T) {
	caller := &fakeCaller{}
	a := newTestApplier(caller)

	cfg, err := LoadConfig("", "")
	require.NoError(t, err)
	cfg.WallboxSetCurrent = "input_number.wallbox_amps"
	a.Update(cfg)

	a.Apply(context.Background(), controller.Wallbox, 2300)
	require.Len(t, caller.calls, 1)
	assert.Equal(t, serviceCall{"input_number", "set_value", "input_number.wallbox_amps", map[string]any{"value": 10}}, caller.calls[0])
}
