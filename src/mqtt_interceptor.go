package main

import (
	"context"
	"errors"

	"github.com/ryansname/chargectl/src/charger"
)

// ErrOutputDisabled is returned for hardware writes while the enabled switch is off
var ErrOutputDisabled = errors.New("chargectl output disabled")

// EnabledSwitchEntity is the HA switch that gates hardware writes
const EnabledSwitchEntity = "switch.chargectl_enabled"

// outputEnabled defaults to true until the switch reports "off"
func outputEnabled(reader charger.Reader, entityID string) bool {
	value, ok := reader.Read(entityID)
	return !ok || value != "off"
}

// mqttInterceptorWorker forwards messages from inputChan to outputChan only
// while the switch is enabled. Discovery topics are always forwarded; dropped
// messages that expect a result get ErrOutputDisabled.
func mqttInterceptorWorker(
	ctx context.Context,
	name string,
	enableEntity string,
	inputChan <-chan MQTTMessage,
	outputChan chan<- MQTTMessage,
	states *StateCache,
	forceEnable bool,
) {
	logger.Infof("%s interceptor started", name)
	enabled := true

	for {
		select {
		case msg := <-inputChan:
			newEnabled := forceEnable || outputEnabled(states, enableEntity)
			if newEnabled != enabled {
				logger.Infof("%s enabled: %v", name, newEnabled)
				enabled = newEnabled
			}

			if enabled || isDiscoveryTopic(msg.Topic) {
				select {
				case outputChan <- msg:
				case <-ctx.Done():
					return
				}
				continue
			}
			logger.Debugf("%s disabled, dropping message to %s", name, msg.Topic)
			reply(msg, ErrOutputDisabled)

		case <-ctx.Done():
			logger.Infof("%s interceptor stopped", name)
			return
		}
	}
}
