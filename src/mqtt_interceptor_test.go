package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTInterceptor_GatesOnSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan MQTTMessage)
	output := make(chan MQTTMessage, 10)
	states := NewStateCache()
	go mqttInterceptorWorker(ctx, "Output", EnabledSwitchEntity, input, output, states, false)

	sender := NewMQTTSender(input, "nodered/proxy/call_service")

	// Enabled by default, the message is forwarded with its result channel
	errChan := make(chan error, 1)
	go func() {
		errChan <- sender.CallServiceSync(ctx, "switch", "turn_on", "switch.wallbox_charging", nil)
	}()
	forwarded := <-output
	assert.Equal(t, "nodered/proxy/call_service", forwarded.Topic)
	var call map[string]any
	require.NoError(t, json.Unmarshal(forwarded.Payload, &call))
	assert.Equal(t, "turn_on", call["service"])
	reply(forwarded, nil)
	assert.NoError(t, <-errChan)

	// Disabled, the caller is told
	states.Set(EnabledSwitchEntity, "off", time.Now())
	err := sender.CallServiceSync(ctx, "switch", "turn_on", "switch.wallbox_charging", nil)
	assert.ErrorIs(t, err, ErrOutputDisabled)

	// Discovery always passes
	input <- MQTTMessage{Topic: "homeassistant/switch/chargectl_enabled/config"}
	assert.Equal(t, "homeassistant/switch/chargectl_enabled/config", (<-output).Topic)
}

func TestMQTTInterceptor_ForceEnable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan MQTTMessage)
	output := make(chan MQTTMessage, 1)
	states := NewStateCache()
	states.Set(EnabledSwitchEntity, "off", time.Now())
	go mqttInterceptorWorker(ctx, "Output", EnabledSwitchEntity, input, output, states, true)

	input <- MQTTMessage{Topic: "nodered/proxy/call_service"}
	assert.Equal(t, "nodered/proxy/call_service", (<-output).Topic)
}

func TestCallServiceSync_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Nobody reads the channel
	sender := NewMQTTSender(make(chan MQTTMessage), "nodered/proxy/call_service")
	err := sender.CallServiceSync(ctx, "number", "set_value", "number.x", map[string]any{"value": 6})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
