package events

import (
	"testing"

	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/core/service"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventById(t *testing.T, events []domain.SensorUpdateEvent, id string) domain.SensorUpdateEvent {
	t.Helper()
	for _, ev := range events {
		if ev.SensorId() == id {
			return ev
		}
	}
	require.Failf(t, "event not found", "no event with id %s", id)
	return nil
}

func TestControllerReadingToUpdateEvents(t *testing.T) {
	assert := assert.New(t)

	events := ToSensorUpdateEvents(domain.Reading{
		DeviceID: "rover_abc123",
		Category: renogymodbus.CategoryController,
		Fields: renogymodbus.Fields{
			"battery_voltage": 13.2,
			"battery_current": 1.25,
			"pv_power":        120,
			"charging_status": "mppt",
			"load_status":     "on",
			"fault_count":     0,
		},
	})

	volt := eventById(t, events, "rover_abc123_battery_voltage").(domain.FloatSensorUpdateEvent)
	assert.Equal(13.2, volt.Value)
	assert.Equal(uint(1), volt.Decimals)

	power := eventById(t, events, "rover_abc123_pv_power").(domain.FloatSensorUpdateEvent)
	assert.Equal(float64(120), power.Value)
	assert.Equal(uint(0), power.Decimals)

	status := eventById(t, events, "rover_abc123_charging_status").(domain.TextSensorUpdateEvent)
	assert.Equal("mppt", status.Value)
}

func TestMissingFieldsProduceNoEvents(t *testing.T) {
	events := ToSensorUpdateEvents(domain.Reading{
		DeviceID: "rover_abc123",
		Category: renogymodbus.CategoryController,
		Fields:   renogymodbus.Fields{"battery_voltage": 13.2},
	})
	assert.Len(t, events, 1)
	assert.Equal(t, "rover_abc123_battery_voltage", events[0].SensorId())
}

func TestBatteryReadingBinaryEvents(t *testing.T) {
	assert := assert.New(t)

	events := ToSensorUpdateEvents(domain.Reading{
		DeviceID: "batt_f00d42",
		Category: renogymodbus.CategoryBattery,
		Fields: renogymodbus.Fields{
			"soc":            87.5,
			"heater_on":      true,
			"charge_enabled": false,
			"charge_mosfet":  "on",
		},
	})

	heater := eventById(t, events, "batt_f00d42_heater_on").(domain.BinarySensorUpdateEvent)
	assert.True(heater.Value)
	charge := eventById(t, events, "batt_f00d42_charge_enabled").(domain.BinarySensorUpdateEvent)
	assert.False(charge.Value)
	mosfet := eventById(t, events, "batt_f00d42_charge_mosfet").(domain.TextSensorUpdateEvent)
	assert.Equal("on", mosfet.Value)
}

func TestArrayFieldsAreNotPublished(t *testing.T) {
	events := ToSensorUpdateEvents(domain.Reading{
		DeviceID: "batt_f00d42",
		Category: renogymodbus.CategoryBattery,
		Fields: renogymodbus.Fields{
			"cell_voltages": []float64{3.3, 3.3, 3.3, 3.3},
			"cell_count":    4,
		},
	})
	assert.Len(t, events, 1)
	assert.Equal(t, "batt_f00d42_cell_count", events[0].SensorId())
}

func TestValidationStatsEvent(t *testing.T) {
	ev := ToValidationStatsEvent("rover_abc123", service.RejectionStats{TotalRejections: 7})
	floatEv := ev.(domain.FloatSensorUpdateEvent)
	assert.Equal(t, "rover_abc123_validation_rejections", floatEv.SensorId())
	assert.Equal(t, float64(7), floatEv.Value)
}

func TestAvailabilityEvent(t *testing.T) {
	ev := ToAvailabilityEvent("rover_abc123", false)
	availEv := ev.(domain.DeviceAvailabilityUpdateEvent)
	assert.Equal(t, "rover_abc123", availEv.SensorId())
	assert.False(t, availEv.Online)
}

func TestDeviceSensorsForController(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	bridge := BridgeDevice("renogy")
	device := MonitoredDevice("rover_abc123", "Rover 40A", renogymodbus.CategoryController, bridge)
	sensors := DeviceSensors(device, renogymodbus.CategoryController)
	require.NotEmpty(sensors)

	seen := map[string]bool{}
	for _, s := range sensors {
		assert.False(seen[s.UniqueId], "duplicate unique id %s", s.UniqueId)
		seen[s.UniqueId] = true
		assert.Equal(device.Id, s.Device.Id)
	}

	last := sensors[len(sensors)-1]
	assert.Equal("rover_abc123_validation_rejections", last.Id)
	assert.Equal(ENTITY_CLASS_DIAGNOSTIC, last.EntityCategory)
}

func TestDeviceBinarySensorsPerCategory(t *testing.T) {
	bridge := BridgeDevice("renogy")
	battery := MonitoredDevice("batt_f00d42", "House battery", renogymodbus.CategoryBattery, bridge)
	assert.NotEmpty(t, DeviceBinarySensors(battery, renogymodbus.CategoryBattery))
	controller := MonitoredDevice("rover_abc123", "Rover 40A", renogymodbus.CategoryController, bridge)
	assert.Empty(t, DeviceBinarySensors(controller, renogymodbus.CategoryController))
}
