package main

import (
	"context"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscriptions tracks the statestream topics to follow. Topics added while
// connected are subscribed straight away and every topic is resubscribed on
// reconnect. Dropped topics stay subscribed until restart; nothing reads them.
type subscriptions struct {
	mu        sync.Mutex
	topics    []string
	subscribe func(topic string) error
}

func newSubscriptions(topics []string) *subscriptions {
	return &subscriptions{topics: topics}
}

// Topics returns the followed topics
func (s *subscriptions) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.topics)
}

// Connected subscribes every topic through subscribe, which is kept for later additions
func (s *subscriptions) Connected(subscribe func(topic string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribe = subscribe
	for _, topic := range s.topics {
		s.subscribeLocked(topic)
	}
}

// Disconnected stops live subscribing until the next Connected
func (s *subscriptions) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribe = nil
}

// Set replaces the topic list and returns the topics that were not followed before
func (s *subscriptions) Set(topics []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, topic := range topics {
		if !slices.Contains(s.topics, topic) {
			added = append(added, topic)
		}
	}
	s.topics = append(s.topics, added...)
	slices.Sort(s.topics)

	if s.subscribe != nil {
		for _, topic := range added {
			s.subscribeLocked(topic)
		}
	}
	return added
}

func (s *subscriptions) subscribeLocked(topic string) {
	if err := s.subscribe(topic); err != nil {
		logger.Errorf("Failed to subscribe to topic %s: %v", topic, err)
		return
	}
	logger.Debugf("Subscribed to topic: %s", topic)
}

// mqttWorker manages the MQTT connection and forwards statestream messages to a channel
func mqttWorker(
	ctx context.Context,
	config MQTTConfig,
	subs *subscriptions,
	msgChan chan<- SensorMessage,
	clientChan chan<- mqtt.Client,
) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
		subs.Disconnected()
	})

	// Sentinel payloads are forwarded too so the cache forgets stale values
	onMessage := func(client mqtt.Client, msg mqtt.Message) {
		sensorMsg := SensorMessage{
			Topic: msg.Topic(),
			Value: string(msg.Payload()),
		}
		select {
		case msgChan <- sensorMsg:
		case <-ctx.Done():
		}
	}

	// Runs on every (re)connect, so subscriptions are restored after a drop
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Infof("Connected to MQTT broker at %s", config.Broker)

		select {
		case clientChan <- client:
			logger.Debug("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}

		subs.Connected(func(topic string) error {
			token := client.Subscribe(topic, 0, onMessage)
			token.Wait()
			return token.Error()
		})
	})

	client := mqtt.NewClient(opts)

	logger.Infof("Connecting to MQTT broker at %s...", config.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		logger.Info("Disconnected from MQTT broker")
	}
}
