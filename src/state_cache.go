package main

import (
	"context"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SensorMessage represents an MQTT message with topic and value
type SensorMessage struct {
	Topic string
	Value string
}

// EntityState is the last known state of a Home Assistant entity
type EntityState struct {
	Value   string
	Updated time.Time
}

// StateCache mirrors Home Assistant entity states published over MQTT statestream.
// Safe for concurrent use.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]EntityState
}

// NewStateCache creates an empty cache
func NewStateCache() *StateCache {
	return &StateCache{states: make(map[string]EntityState)}
}

// isSentinelState reports payloads HA uses when a sensor has dropped out
func isSentinelState(value string) bool {
	switch value {
	case "", "unknown", "unavailable", "Undefined":
		return true
	}
	return false
}

// Set records a new state. Sentinel states forget the entity.
func (c *StateCache) Set(entityID, value string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if isSentinelState(value) {
		delete(c.states, entityID)
		return
	}
	c.states[entityID] = EntityState{Value: value, Updated: at}
}

// Read returns the entity state, false when missing or unknown
func (c *StateCache) Read(entityID string) (string, bool) {
	if entityID == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[entityID]
	return state.Value, ok
}

// Get returns the full state including when it was last updated
func (c *StateCache) Get(entityID string) (EntityState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[entityID]
	return state, ok
}

// Entities lists known entity IDs, sorted
func (c *StateCache) Entities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadWatts parses a power entity as whole watts, truncating decimals.
// Returns nil when the entity is unknown, not numeric, not finite or outside
// the int range.
func (c *StateCache) ReadWatts(entityID string) *int {
	value, ok := c.Read(entityID)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || f <= math.MinInt64 || f >= math.MaxInt64 {
		return nil
	}
	watts := int(f)
	return &watts
}

// EntityTopic maps "sensor.grid_power" to the statestream topic
// "homeassistant/sensor/grid_power/state"
func EntityTopic(entityID string) string {
	return "homeassistant/" + strings.Replace(entityID, ".", "/", 1) + "/state"
}

// TopicEntity is the inverse of EntityTopic
func TopicEntity(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, "homeassistant/")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, "/state")
	if !ok {
		return "", false
	}
	domain, object, ok := strings.Cut(rest, "/")
	if !ok || domain == "" || object == "" || strings.Contains(object, "/") {
		return "", false
	}
	return domain + "." + object, true
}

// buildTopicsList creates the MQTT subscription list for the given entities
func buildTopicsList(entities []string) []string {
	topics := make([]string, 0, len(entities))
	for _, e := range entities {
		topics = append(topics, EntityTopic(e))
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// stateWorker applies incoming sensor messages to the cache
func stateWorker(ctx context.Context, msgChan <-chan SensorMessage, cache *StateCache) {
	logger.Info("State worker started")

	for {
		select {
		case msg := <-msgChan:
			entityID, ok := TopicEntity(msg.Topic)
			if !ok {
				logger.Debugf("Ignoring message on unexpected topic %s", msg.Topic)
				continue
			}
			cache.Set(entityID, msg.Value, time.Now())

		case <-ctx.Done():
			logger.Info("State worker stopped")
			return
		}
	}
}
