package main

import (
	"context"
	"encoding/json"

	"github.com/ryansname/chargectl/src/controller"
	"github.com/ryansname/chargectl/src/tariff"
)

const (
	haDeviceID          = "chargectl"
	snapshotStateTopic  = "homeassistant/sensor/chargectl/state"
	calendarInfoTopic   = "homeassistant/sensor/chargectl_calendar_info"
	energyInfoTopic     = "homeassistant/sensor/chargectl_energy_info"
	enabledSwitchPrefix = "homeassistant/switch/chargectl_enabled"
)

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type haEntityConfig struct {
	Name                string         `json:"name,omitempty"`
	DeviceClass         string         `json:"device_class,omitempty"`
	StateTopic          string         `json:"state_topic"`
	JsonAttributesTopic string         `json:"json_attributes_topic,omitempty"`
	UnitOfMeasure       string         `json:"unit_of_measurement,omitempty"`
	ValueTemplate       string         `json:"value_template,omitempty"`
	UniqueId            string         `json:"unique_id"`
	Icon                string         `json:"icon,omitempty"`
	ExpireAfter         uint           `json:"expire_after,omitempty"`
	StateClass          string         `json:"state_class,omitempty"`
	Device              haDeviceConfig `json:"device"`
}

type haSwitchConfig struct {
	Name         string         `json:"name"`
	StateTopic   string         `json:"state_topic"`
	CommandTopic string         `json:"command_topic"`
	UniqueId     string         `json:"unique_id"`
	Icon         string         `json:"icon,omitempty"`
	Optimistic   bool           `json:"optimistic"`
	Device       haDeviceConfig `json:"device"`
}

var haDevice = haDeviceConfig{
	Identifiers:  []string{haDeviceID},
	Name:         "Charging Controller",
	Manufacturer: "Custom",
	Model:        "chargectl",
}

// haPublisher announces and updates the chargectl entities in Home Assistant
type haPublisher struct {
	sender *MQTTSender
}

func newHAPublisher(sender *MQTTSender) *haPublisher {
	return &haPublisher{sender: sender}
}

func (p *haPublisher) sendConfig(topic string, config any) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}
	p.sender.Send(MQTTMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return nil
}

// CreateEntities sends the discovery configs for every chargectl entity
func (p *haPublisher) CreateEntities() error {
	for _, sensor := range snapshotSensors {
		config := haEntityConfig{
			Name:          sensor.Name,
			DeviceClass:   sensor.DeviceClass,
			StateTopic:    snapshotStateTopic,
			UnitOfMeasure: sensor.Unit,
			ValueTemplate: "{{ value_json." + sensor.Key + " }}",
			UniqueId:      haDeviceID + "_" + sensor.Key,
			Icon:          sensor.Icon,
			ExpireAfter:   60 * 10, // 10 minutes
			StateClass:    "measurement",
			Device:        haDevice,
		}
		if err := p.sendConfig("homeassistant/sensor/"+config.UniqueId+"/config", config); err != nil {
			return err
		}
	}

	infos := []haEntityConfig{
		{
			Name:                "GV SE Calendar Info",
			StateTopic:          calendarInfoTopic + "/state",
			JsonAttributesTopic: calendarInfoTopic + "/attributes",
			UniqueId:            haDeviceID + "_calendar_info",
			Icon:                "mdi:calendar",
			Device:              haDevice,
		},
		{
			Name:                "GV SE Energy Info",
			StateTopic:          energyInfoTopic + "/state",
			JsonAttributesTopic: energyInfoTopic + "/attributes",
			UniqueId:            haDeviceID + "_energy_info",
			Icon:                "mdi:transmission-tower",
			Device:              haDevice,
		},
	}
	for _, config := range infos {
		if err := p.sendConfig("homeassistant/sensor/"+config.UniqueId+"/config", config); err != nil {
			return err
		}
	}

	return p.sendConfig(enabledSwitchPrefix+"/config", haSwitchConfig{
		Name:         "Enabled",
		StateTopic:   enabledSwitchPrefix + "/state",
		CommandTopic: enabledSwitchPrefix + "/set",
		UniqueId:     "chargectl_enabled",
		Icon:         "mdi:power",
		Optimistic:   true,
		Device:       haDevice,
	})
}

// PublishSnapshot sends the controller outputs as one JSON state message
func (p *haPublisher) PublishSnapshot(snapshot controller.Snapshot) error {
	return p.sender.SendJSON(snapshotStateTopic, snapshot.Fields(), false)
}

// PublishCalendarInfo updates the calendar info sensor
func (p *haPublisher) PublishCalendarInfo(info tariff.CalendarInfo) error {
	p.sender.Send(MQTTMessage{Topic: calendarInfoTopic + "/state", Payload: []byte(info.State), Retain: true})
	return p.sender.SendJSON(calendarInfoTopic+"/attributes", info, true)
}

// PublishEnergyInfo updates the energy info sensor
func (p *haPublisher) PublishEnergyInfo(info tariff.EnergyInfo) error {
	state, err := json.Marshal(info.Block)
	if err != nil {
		return err
	}
	p.sender.Send(MQTTMessage{Topic: energyInfoTopic + "/state", Payload: state, Retain: true})
	return p.sender.SendJSON(energyInfoTopic+"/attributes", info, true)
}

// snapshotPublisherWorker forwards controller snapshots to Home Assistant
func snapshotPublisherWorker(ctx context.Context, snapshotChan <-chan controller.Snapshot, publisher *haPublisher) {
	logger.Info("Snapshot publisher started")

	for {
		select {
		case snapshot := <-snapshotChan:
			if err := publisher.PublishSnapshot(snapshot); err != nil {
				logger.Errorf("Failed to publish snapshot: %v", err)
			}
		case <-ctx.Done():
			logger.Info("Snapshot publisher stopped")
			return
		}
	}
}
