package events

import (
	. "github.com/Anto79-ops/renogy-ble/internal/core/domain"

	"github.com/Anto79-ops/renogy-ble/internal/core/service"
)

// ToSensorUpdateEvents maps one merged poll result to per-sensor update
// events. Fields without a spec entry (raw arrays, alarm name lists,
// device metadata) are not published as individual sensors.
func ToSensorUpdateEvents(reading Reading) []SensorUpdateEvent {
	var events []SensorUpdateEvent
	for _, spec := range SensorSpecs(reading.Category) {
		value, ok := reading.Fields[spec.Key]
		if !ok {
			continue
		}
		id := sensorId(reading.DeviceID, spec.Key)
		if spec.Text {
			text, ok := value.(string)
			if !ok {
				continue
			}
			events = append(events, TextSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
				Value:                  text,
			})
			continue
		}
		num, ok := floatValue(value)
		if !ok {
			continue
		}
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  num,
			Decimals:               spec.Decimals,
		})
	}
	for _, spec := range BinarySensorSpecs(reading.Category) {
		value, ok := reading.Fields[spec.Key].(bool)
		if !ok {
			continue
		}
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: sensorId(reading.DeviceID, spec.Key)},
			Value:                  value,
		})
	}
	return events
}

// ToValidationStatsEvent maps validator counters to the per-device
// rejection diagnostic sensor.
func ToValidationStatsEvent(deviceID string, stats service.RejectionStats) SensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: sensorId(deviceID, SENSOR_ID_VALIDATION_REJECTIONS)},
		Value:                  float64(stats.TotalRejections),
	}
}

// ToAvailabilityEvent maps a device online transition to its availability
// topic event.
func ToAvailabilityEvent(deviceID string, online bool) SensorUpdateEvent {
	return DeviceAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: deviceID},
		Online:                 online,
	}
}

func floatValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	}
	return 0, false
}
