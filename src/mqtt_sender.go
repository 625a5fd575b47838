package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ryansname/chargectl/src/controller"
)

var (
	// ErrNotConnected is returned for acknowledged messages sent while the broker is down
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrPublishTimeout is returned when the broker did not acknowledge in time
	ErrPublishTimeout = fmt.Errorf("mqtt publish: %w", controller.ErrTimeout)
)

// publishTimeout bounds a single publish so one stuck token cannot stall the worker
const publishTimeout = 5 * time.Second

// MQTTMessage represents an outgoing MQTT message.
// When Result is set the sender reports the publish outcome on it instead of
// queueing while disconnected.
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Result  chan<- error
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch           chan<- MQTTMessage
	serviceTopic string
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel.
// Service calls are posted to serviceTopic for a Node-RED proxy to execute.
func NewMQTTSender(ch chan<- MQTTMessage, serviceTopic string) *MQTTSender {
	return &MQTTSender{ch: ch, serviceTopic: serviceTopic}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// SendJSON marshals payload and publishes it
func (s *MQTTSender) SendJSON(topic string, payload any, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	s.Send(MQTTMessage{Topic: topic, Payload: data, QoS: 0, Retain: retain})
	return nil
}

func (s *MQTTSender) serviceCall(domain, service, entityID string, data map[string]any) MQTTMessage {
	call := map[string]any{
		"domain":    domain,
		"service":   service,
		"entity_id": entityID,
	}
	if data != nil {
		call["data"] = data
	}
	payload, _ := json.Marshal(call)

	return MQTTMessage{
		Topic:   s.serviceTopic,
		Payload: payload,
		QoS:     1,
		Retain:  false,
	}
}

// CallServiceSync sends a Home Assistant service call via the Node-RED proxy and waits for the broker to acknowledge it
func (s *MQTTSender) CallServiceSync(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	result := make(chan error, 1)
	msg := s.serviceCall(domain, service, entityID, data)
	msg.Result = result

	select {
	case s.ch <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isDiscoveryTopic checks if a topic is an MQTT discovery config topic
func isDiscoveryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/config")
}

func publish(client mqtt.Client, msg MQTTMessage) error {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func reply(msg MQTTMessage, err error) {
	if msg.Result != nil {
		msg.Result <- err
	}
}

// mqttSenderWorker publishes outgoing messages, queueing fire-and-forget
// messages until a client is connected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	logger.Info("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			logger.Debug("MQTT sender worker received new client")
			client = newClient

			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					if err := publish(client, msg); err != nil {
						logger.Warnf("Failed to publish queued message to %s: %v", msg.Topic, err)
					}
				}
				messageQueue = nil
				if queuedCount > 0 {
					logger.Infof("MQTT sender worker processed %d queued messages", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				err := publish(client, msg)
				if err != nil {
					logger.Warnf("Failed to publish to %s: %v", msg.Topic, err)
				}
				reply(msg, err)
				continue
			}

			// Hardware writes are not replayed later, the next tick sends a fresh value
			if msg.Result != nil {
				reply(msg, ErrNotConnected)
				continue
			}
			messageQueue = append(messageQueue, msg)
			logger.Debugf("MQTT sender worker queued message (total queued: %d)", len(messageQueue))

		case <-ctx.Done():
			logger.Info("MQTT sender worker stopped")
			return
		}
	}
}
