package main

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryansname/chargectl/src/controller"
)

// sensorSpec describes one value exposed for display
type sensorSpec struct {
	Key         string
	Name        string
	Unit        string
	Icon        string
	DeviceClass string
}

// snapshotSensors are the controller outputs, in display order
var snapshotSensors = []sensorSpec{
	{Key: "avg_grid_power_w", Name: "GV Avg Grid Power", Unit: "W", Icon: "mdi:flash", DeviceClass: "power"},
	{Key: "effective_limit_w", Name: "GV Effective Limit", Unit: "W", Icon: "mdi:speedometer", DeviceClass: "power"},
	{Key: "available_power_w", Name: "GV Available Power", Unit: "W", Icon: "mdi:battery-charging", DeviceClass: "power"},
	{Key: "target_power_w", Name: "GV Target Power", Unit: "W", Icon: "mdi:ev-station", DeviceClass: "power"},
	{Key: "current_block", Name: "GV Current Block", Icon: "mdi:numeric"},
	{Key: "next_block", Name: "GV Next Block", Icon: "mdi:numeric-positive-1"},
	{Key: "minutes_to_next", Name: "GV Minutes To Next", Unit: "min", Icon: "mdi:timer", DeviceClass: "duration"},
}

// SensorValue is one displayed value. Available stays false until the key
// has been populated at least once.
type SensorValue struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// SensorBoard keeps the latest controller outputs for the API and debug console
type SensorBoard struct {
	mu     sync.RWMutex
	clock  clock.Clock
	values map[string]SensorValue
}

// NewSensorBoard creates a board with every snapshot key registered but unpopulated
func NewSensorBoard(clk clock.Clock) *SensorBoard {
	b := &SensorBoard{clock: clk, values: make(map[string]SensorValue)}
	for _, sensor := range snapshotSensors {
		b.values[sensor.Key] = SensorValue{Key: sensor.Key, Name: sensor.Name, Unit: sensor.Unit}
	}
	return b
}

// Push records every field of the snapshot
func (b *SensorBoard) Push(snapshot controller.Snapshot) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, value := range snapshot.Fields() {
		v := b.values[key]
		v.Key = key
		v.Value = value
		v.Available = true
		v.UpdatedAt = now
		b.values[key] = v
	}
}

// Get returns one sensor value
func (b *SensorBoard) Get(key string) (SensorValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// All returns every sensor in display order
func (b *SensorBoard) All() []SensorValue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SensorValue, 0, len(snapshotSensors))
	for _, sensor := range snapshotSensors {
		out = append(out, b.values[sensor.Key])
	}
	return out
}

// metricsSink exports the controller outputs as prometheus gauges
type metricsSink struct {
	gauges       map[string]prometheus.Gauge
	applyResults *prometheus.CounterVec
	samples      *prometheus.CounterVec
}

func newMetricsSink(reg prometheus.Registerer) *metricsSink {
	m := &metricsSink{
		gauges: make(map[string]prometheus.Gauge, len(snapshotSensors)),
		applyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargectl",
			Name:      "apply_results_total",
			Help:      "Charging power writes by charger and outcome.",
		}, []string{"charger", "status"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargectl",
			Name:      "samples_total",
			Help:      "Grid power samples recorded, by whether the reading was known.",
		}, []string{"reading"}),
	}
	for _, sensor := range snapshotSensors {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chargectl",
			Name:      sensor.Key,
			Help:      sensor.Name,
		})
		m.gauges[sensor.Key] = g
		reg.MustRegister(g)
	}
	reg.MustRegister(m.applyResults, m.samples)
	return m
}

// Push sets a gauge per numeric snapshot field
func (m *metricsSink) Push(snapshot controller.Snapshot) {
	for key, value := range snapshot.Fields() {
		g, ok := m.gauges[key]
		if !ok {
			continue
		}
		if v, ok := value.(int); ok {
			g.Set(float64(v))
		}
	}
}

// ObserveApply counts apply outcomes
func (m *metricsSink) ObserveApply(results []controller.ApplyResult) {
	for _, r := range results {
		m.applyResults.WithLabelValues(string(r.Charger), string(r.Status)).Inc()
	}
}

// ObserveSample counts a recorded sample
func (m *metricsSink) ObserveSample(known bool) {
	reading := "unknown"
	if known {
		reading = "known"
	}
	m.samples.WithLabelValues(reading).Inc()
}

// channelSink hands snapshots to the broadcast worker without blocking the controller
type channelSink chan<- controller.Snapshot

func (c channelSink) Push(snapshot controller.Snapshot) {
	select {
	case c <- snapshot:
	default:
		logger.Warn("Snapshot channel full, dropping update")
	}
}

// MultiSink pushes to every sink in order
type MultiSink []controller.Sink

func (m MultiSink) Push(snapshot controller.Snapshot) {
	for _, s := range m {
		s.Push(snapshot)
	}
}
