package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/charger"
	"github.com/ryansname/chargectl/src/samples"
)

type states map[string]string

func (s states) Read(entityID string) (string, bool) {
	v, ok := s[entityID]
	return v, ok
}

type recordingSink struct {
	pushed []Snapshot
}

func (s *recordingSink) Push(snapshot Snapshot) {
	s.pushed = append(s.pushed, snapshot)
}

type recordingApplier struct {
	calls map[ChargerID][]int
	err   error
}

func (a *recordingApplier) Apply(_ context.Context, id ChargerID, watts int) ApplyResult {
	if a.calls == nil {
		a.calls = make(map[ChargerID][]int)
	}
	a.calls[id] = append(a.calls[id], watts)
	return ResultFromError(id, watts, a.err)
}

var now = time.Date(2024, time.December, 5, 10, 52, 0, 0, time.UTC)

var entities = struct {
	wallbox charger.WallboxEntities
	vehicle charger.VehicleEntities
}{
	wallbox: charger.WallboxEntities{Cable: "binary_sensor.wb_cable", Status: "sensor.wb_status"},
	vehicle: charger.VehicleEntities{Gun: "sensor.mg4_gun", Active: "switch.mg4_charging"},
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig() Config {
	config := DefaultConfig()
	config.Wallbox = entities.wallbox
	config.Vehicle = entities.vehicle
	return config
}

func readyWallbox() states {
	return states{entities.wallbox.Cable: "on", entities.wallbox.Status: "ready"}
}

func gridSample(at time.Time, gridW, curCap, nextCap, minutesToNext int) samples.Sample {
	return samples.Sample{
		Timestamp:        at,
		GridPowerW:       &gridW,
		CurrentBlock:     1,
		NextBlock:        2,
		MinutesToNext:    minutesToNext,
		CurrentBlockCapW: curCap,
		NextBlockCapW:    nextCap,
	}
}

func newTestController(buffer *samples.Buffer, reader states) (*Controller, *recordingSink, *recordingApplier) {
	sink := &recordingSink{}
	applier := &recordingApplier{}
	return New(testConfig(), buffer, reader, sink, applier, quietLogger()), sink, applier
}

func TestTick_EmptyBufferIsNoop(t *testing.T) {
	c, sink, applier := newTestController(samples.NewBuffer(90), readyWallbox())

	_, ok := c.Tick(context.Background(), now)

	assert.False(t, ok)
	assert.Empty(t, sink.pushed)
	assert.Empty(t, applier.calls)
}

func TestTick_NoValidReadingsIsNoop(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(samples.Sample{Timestamp: now, CurrentBlockCapW: 5000, NextBlockCapW: 5000})
	c, sink, _ := newTestController(buffer, readyWallbox())

	_, ok := c.Tick(context.Background(), now)

	assert.False(t, ok)
	assert.Empty(t, sink.pushed)
	assert.Equal(t, 0, c.LastTarget())
}

func TestTick_AnticipatesLowerCap(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 0, 5000, 3000, 8))
	c, sink, _ := newTestController(buffer, readyWallbox())

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	assert.Equal(t, 3000, result.Snapshot.EffectiveLimitW)
	require.Len(t, sink.pushed, 1)
	assert.Equal(t, result.Snapshot, sink.pushed[0])
}

func TestTick_KeepsCurrentCapOutsideLead(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 0, 5000, 3000, 12))
	c, _, _ := newTestController(buffer, readyWallbox())

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	assert.Equal(t, 5000, result.Snapshot.EffectiveLimitW)
}

func TestTick_AverageAndRamp(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now.Add(-2*time.Minute), -1000, 8000, 8000, 30))
	buffer.Append(gridSample(now, -2000, 8000, 8000, 30))
	c, sink, applier := newTestController(buffer, readyWallbox())

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	assert.Equal(t, Snapshot{
		AvgGridPowerW:   -1500,
		EffectiveLimitW: 8000,
		AvailablePowerW: 6500,
		TargetPowerW:    2300,
		CurrentBlock:    1,
		NextBlock:       2,
		MinutesToNext:   30,
	}, result.Snapshot)
	assert.Equal(t, 2300, result.FinalPowerW)
	assert.Equal(t, []int{2300}, applier.calls[Wallbox])
	assert.Equal(t, []int{0}, applier.calls[Vehicle], "unavailable charger gets 0")

	result, _ = c.Tick(context.Background(), now)
	assert.Equal(t, 4600, result.Snapshot.TargetPowerW)
	result, _ = c.Tick(context.Background(), now)
	assert.Equal(t, 6500, result.Snapshot.TargetPowerW)
	assert.Len(t, sink.pushed, 3)
}

func TestTick_NoChargerAppliesZeroButKeepsTarget(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 500, 4000, 4000, 30))
	reader := states{entities.wallbox.Cable: "off", entities.wallbox.Status: "fault"}
	c, sink, applier := newTestController(buffer, reader)

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	assert.Equal(t, 2300, result.Snapshot.TargetPowerW)
	assert.Equal(t, 0, result.FinalPowerW)
	assert.Equal(t, []string{"cable_disconnected", "status_fault"}, result.Wallbox.Reasons)
	require.Len(t, sink.pushed, 1)
	assert.Equal(t, 2300, sink.pushed[0].TargetPowerW)
	assert.Equal(t, []int{0}, applier.calls[Wallbox])
	assert.Equal(t, []int{0}, applier.calls[Vehicle])
}

func TestTick_ApplyFailuresReported(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 0, 4000, 4000, 30))
	c, _, applier := newTestController(buffer, readyWallbox())
	applier.err = ErrTimeout

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	require.Len(t, result.Applied, 2)
	for _, r := range result.Applied {
		assert.Equal(t, StatusTimeout, r.Status)
	}
}

func TestTick_NilApplier(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 0, 4000, 4000, 30))
	c := New(testConfig(), buffer, readyWallbox(), nil, nil, quietLogger())

	result, ok := c.Tick(context.Background(), now)

	require.True(t, ok)
	assert.Nil(t, result.Applied)
}

// blockingApplier holds every write until release is closed
type blockingApplier struct {
	entered chan struct{}
	release chan struct{}
}

func (a *blockingApplier) Apply(_ context.Context, id ChargerID, watts int) ApplyResult {
	select {
	case a.entered <- struct{}{}:
	default:
	}
	<-a.release
	return ResultFromError(id, watts, nil)
}

func TestTick_ApplyDoesNotHoldLock(t *testing.T) {
	buffer := samples.NewBuffer(90)
	buffer.Append(gridSample(now, 0, 4000, 4000, 30))
	applier := &blockingApplier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(testConfig(), buffer, readyWallbox(), nil, applier, quietLogger())

	done := make(chan struct{})
	go func() {
		c.Tick(context.Background(), now)
		close(done)
	}()
	<-applier.entered

	read := make(chan int, 1)
	go func() {
		c.UpdateConfig(testConfig())
		read <- c.LastTarget()
	}()
	select {
	case target := <-read:
		assert.Equal(t, 2300, target)
	case <-time.After(time.Second):
		t.Fatal("LastTarget blocked while applying")
	}

	close(applier.release)
	<-done
}

func TestResultFromError(t *testing.T) {
	assert.Equal(t, StatusApplied, ResultFromError(Wallbox, 1000, nil).Status)
	assert.Equal(t, StatusTimeout, ResultFromError(Wallbox, 1000, context.DeadlineExceeded).Status)
	assert.Equal(t, StatusTimeout, ResultFromError(Wallbox, 1000, ErrTimeout).Status)
	assert.Equal(t, StatusRejected, ResultFromError(Wallbox, 1000, errors.New("nope")).Status)
}

func TestSnapshot_Fields(t *testing.T) {
	fields := Snapshot{AvgGridPowerW: -100, TargetPowerW: 2300, MinutesToNext: 7}.Fields()

	assert.Len(t, fields, 7)
	assert.Equal(t, -100, fields["avg_grid_power_w"])
	assert.Equal(t, 2300, fields["target_power_w"])
	assert.Equal(t, 7, fields["minutes_to_next"])
	assert.Contains(t, fields, "effective_limit_w")
}
