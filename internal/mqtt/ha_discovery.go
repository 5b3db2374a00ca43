package mqtt

import (
	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/core/events"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return client.HADiscoveryTopic(sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoveryBinarySensorTopic(client *MQTTClient, sensor domain.GenericBinarySensor) string {
	return client.HADiscoveryTopic(events.SENSOR_TYPE_BINARY, sensor.Device.Id, sensor.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        client.SensorStateTopic(sensor.Id),
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           availabilityTopic(client, sensor.Id, sensor.Device),
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
}

func GenericBinarySensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericBinarySensor) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:           device(sensor.Device),
		StateTopic:       client.BinarySensorStateTopic(sensor.Id),
		DeviceClass:      sensor.DeviceClass,
		EntityCategory:   sensor.EntityCategory,
		Name:             sensor.Name,
		UniqueId:         sensor.UniqueId,
		Icon:             sensor.Icon,
		EnabledByDefault: sensor.EnabledByDefault,
		Platform:         "mqtt",
		PayloadOn:        MQTT_PAYLOAD_ON,
		PayloadOff:       MQTT_PAYLOAD_OFF,
	}
	if sensor.Id == events.SENSOR_ID_BRIDGE_STATE {
		// the bridge sensor reads the LWT topic directly
		disConfig.StateTopic = client.BridgeStateTopic()
		disConfig.AvTopic = ""
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else {
		disConfig.AvTopic = availabilityTopic(client, sensor.Id, sensor.Device)
	}
	return disConfig
}

// availabilityTopic picks the per-device availability topic for monitored
// device sensors and the bridge LWT topic for the bridge's own sensors.
func availabilityTopic(client *MQTTClient, sensorId string, dev domain.Device) string {
	if sensorId == events.SENSOR_ID_BRIDGE_STATE || dev.ViaDevice == "" {
		return client.BridgeStateTopic()
	}
	return client.DeviceAvailabilityTopic(dev.Id)
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
