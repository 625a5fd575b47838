package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/tariff"
)

func drain(ch chan MQTTMessage) []MQTTMessage {
	var out []MQTTMessage
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestCreateEntities_PublishesDiscovery(t *testing.T) {
	ch := make(chan MQTTMessage, 20)
	publisher := newHAPublisher(NewMQTTSender(ch, "nodered/proxy/call_service"))

	require.NoError(t, publisher.CreateEntities())
	msgs := drain(ch)
	require.Len(t, msgs, len(snapshotSensors)+3)

	for _, msg := range msgs {
		assert.True(t, isDiscoveryTopic(msg.Topic), msg.Topic)
		assert.True(t, msg.Retain)
	}

	var target haEntityConfig
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &target))
	assert.Equal(t, "homeassistant/sensor/chargectl_target_power_w/config", msgs[3].Topic)
	assert.Equal(t, "GV Target Power", target.Name)
	assert.Equal(t, "{{ value_json.target_power_w }}", target.ValueTemplate)
	assert.Equal(t, "W", target.UnitOfMeasure)

	var sw haSwitchConfig
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &sw))
	assert.Equal(t, "homeassistant/switch/chargectl_enabled/set", sw.CommandTopic)
	assert.Equal(t, EntityTopic(EnabledSwitchEntity), sw.StateTopic)
}

func TestPublishSnapshot(t *testing.T) {
	ch := make(chan MQTTMessage, 1)
	publisher := newHAPublisher(NewMQTTSender(ch, ""))

	require.NoError(t, publisher.PublishSnapshot(testSnapshot))
	msg := <-ch
	assert.Equal(t, snapshotStateTopic, msg.Topic)

	var state map[string]int
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, 2300, state["target_power_w"])
	assert.Equal(t, -1500, state["avg_grid_power_w"])
	assert.Len(t, state, 7)
}

func TestPublishInfo(t *testing.T) {
	ch := make(chan MQTTMessage, 4)
	publisher := newHAPublisher(NewMQTTSender(ch, ""))
	now := time.Date(2024, time.December, 25, 15, 0, 0, 0, time.UTC)

	require.NoError(t, publisher.PublishCalendarInfo(tariff.CalendarInfoAt(now)))
	require.NoError(t, publisher.PublishEnergyInfo(tariff.NewClassifier().EnergyInfoAt(now)))

	msgs := drain(ch)
	require.Len(t, msgs, 4)
	assert.Equal(t, "holiday", string(msgs[0].Payload))
	assert.Equal(t, calendarInfoTopic+"/attributes", msgs[1].Topic)
	// 15:00 on a high season holiday: base 2 plus one
	assert.Equal(t, "3", string(msgs[2].Payload))
	assert.Contains(t, string(msgs[3].Payload), `"day_type":"work_free"`)
}
