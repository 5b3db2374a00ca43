package domain

import (
	"time"

	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_ADAPTER      = "adapter"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// ReadRegistersRequest asks an adapter actor for one register block read.
type ReadRegistersRequest struct {
	ActorRequestMixIn
	DeviceID uint8
	Register uint16
	Words    uint16
}

type ReadRegistersResponse struct {
	ActorResponseMixIn
	Register uint16
	Payload  []byte
}

// Reading is one merged poll cycle result for a device.
type Reading struct {
	DeviceID string
	Category renogymodbus.DeviceCategory
	Captured time.Time
	Fields   renogymodbus.Fields
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors       []GenericSensor
	BinarySensors []GenericBinarySensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
