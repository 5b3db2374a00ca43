package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	. "github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE          = "bridge"
	SENSOR_ID_VALIDATION_REJECTIONS = "validation_rejections"

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_HEAT            = "heat"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

// SensorSpec describes one published field of a device category: its HA
// metadata plus the precision used when formatting state updates.
type SensorSpec struct {
	Key              string
	Name             string
	StateClass       string
	DeviceClass      string
	Unit             string
	Icon             string
	Decimals         uint
	Text             bool
	Diagnostic       bool
	EnabledByDefault *bool
}

// BinarySensorSpec describes one boolean field of a device category.
type BinarySensorSpec struct {
	Key         string
	Name        string
	DeviceClass string
	Icon        string
}

var controllerSensorSpecs = []SensorSpec{
	{Key: "battery_percentage", Name: "Battery", DeviceClass: DEVICE_CLASS_BATTERY, Unit: "%", StateClass: STATE_CLASS_MEASUREMENT, Icon: "mdi:battery"},
	{Key: "battery_voltage", Name: "Battery voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "battery_current", Name: "Battery current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "battery_temperature", Name: "Battery temperature", DeviceClass: DEVICE_CLASS_TEMPERATURE, Unit: "°C", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "battery_type", Name: "Battery type", Icon: "mdi:battery-outline", Text: true},

	{Key: "pv_voltage", Name: "PV voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "pv_current", Name: "PV current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "pv_power", Name: "PV power", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT, Icon: "mdi:solar-power"},

	{Key: "load_voltage", Name: "Load voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "load_current", Name: "Load current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "load_power", Name: "Load power", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT},
	{Key: "load_status", Name: "Load status", Icon: "mdi:power-plug", Text: true},

	{Key: "controller_temperature", Name: "Controller temperature", DeviceClass: DEVICE_CLASS_TEMPERATURE, Unit: "°C", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "charging_status", Name: "Charging status", Icon: "mdi:battery-charging", Text: true},

	{Key: "max_charging_power_today", Name: "Max charging power today", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT},
	{Key: "max_discharging_power_today", Name: "Max discharging power today", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT},
	{Key: "charging_amp_hours_today", Name: "Charging Ah today", Unit: "Ah", StateClass: STATE_CLASS_TOTAL_INCREASING},
	{Key: "discharging_amp_hours_today", Name: "Discharging Ah today", Unit: "Ah", StateClass: STATE_CLASS_TOTAL_INCREASING},
	{Key: "power_generation_today", Name: "Power generation today", DeviceClass: DEVICE_CLASS_ENERGY, Unit: "Wh", StateClass: STATE_CLASS_TOTAL_INCREASING},
	{Key: "power_consumption_today", Name: "Power consumption today", DeviceClass: DEVICE_CLASS_ENERGY, Unit: "Wh", StateClass: STATE_CLASS_TOTAL_INCREASING},
	{Key: "power_generation_total", Name: "Power generation total", DeviceClass: DEVICE_CLASS_ENERGY, Unit: "Wh", StateClass: STATE_CLASS_TOTAL_INCREASING},

	{Key: "fault_count", Name: "Active faults", Icon: "mdi:alert-circle", Diagnostic: true},
	{Key: "warning_count", Name: "Active warnings", Icon: "mdi:alert-outline", Diagnostic: true},
}

var batterySensorSpecs = []SensorSpec{
	{Key: "voltage", Name: "Voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "current", Name: "Current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "power", Name: "Power", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "soc", Name: "State of charge", DeviceClass: DEVICE_CLASS_BATTERY, Unit: "%", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "remaining_capacity", Name: "Remaining capacity", Unit: "Ah", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 3},
	{Key: "total_capacity", Name: "Total capacity", Unit: "Ah", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 3},
	{Key: "battery_temperature", Name: "Battery temperature", DeviceClass: DEVICE_CLASS_TEMPERATURE, Unit: "°C", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "cell_count", Name: "Cell count", Icon: "mdi:battery-outline", Diagnostic: true},
	{Key: "temperature_count", Name: "Temperature sensor count", Icon: "mdi:thermometer", Diagnostic: true},
	{Key: "alarm_count", Name: "Active alarms", Icon: "mdi:alert", Diagnostic: true},
	{Key: "warning_count", Name: "Active warnings", Icon: "mdi:alert-outline", Diagnostic: true},
	{Key: "charge_mosfet", Name: "Charge MOSFET", Icon: "mdi:electric-switch", Text: true, Diagnostic: true},
	{Key: "discharge_mosfet", Name: "Discharge MOSFET", Icon: "mdi:electric-switch", Text: true, Diagnostic: true},
}

var batteryBinarySensorSpecs = []BinarySensorSpec{
	{Key: "heater_on", Name: "Heater", DeviceClass: DEVICE_CLASS_HEAT, Icon: "mdi:radiator"},
	{Key: "fully_charged", Name: "Fully charged", Icon: "mdi:battery-check"},
	{Key: "charge_enabled", Name: "Charge enabled", Icon: "mdi:battery-plus"},
	{Key: "discharge_enabled", Name: "Discharge enabled", Icon: "mdi:battery-minus"},
}

var inverterSensorSpecs = []SensorSpec{
	{Key: "input_voltage", Name: "AC input voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "input_current", Name: "AC input current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "input_power", Name: "AC input power", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "input_frequency", Name: "AC input frequency", DeviceClass: DEVICE_CLASS_FREQUENCY, Unit: "Hz", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "output_voltage", Name: "AC output voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "output_current", Name: "AC output current", DeviceClass: DEVICE_CLASS_CURRENT, Unit: "A", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "output_power", Name: "AC output power", DeviceClass: DEVICE_CLASS_POWER, Unit: "W", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "output_frequency", Name: "AC output frequency", DeviceClass: DEVICE_CLASS_FREQUENCY, Unit: "Hz", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 2},
	{Key: "battery_voltage", Name: "Battery voltage", DeviceClass: DEVICE_CLASS_VOLTAGE, Unit: "V", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "temperature", Name: "Temperature", DeviceClass: DEVICE_CLASS_TEMPERATURE, Unit: "°C", StateClass: STATE_CLASS_MEASUREMENT, Decimals: 1},
	{Key: "fault_count", Name: "Active faults", Icon: "mdi:alert-circle", Diagnostic: true},
}

var inverterBinarySensorSpecs = []BinarySensorSpec{
	{Key: "eco_mode", Name: "ECO mode", Icon: "mdi:leaf"},
	{Key: "beeper_on", Name: "Beeper", Icon: "mdi:volume-high"},
}

// validationSensorSpec is shared by all categories. It tracks how many
// readings the spike filter has discarded.
var validationSensorSpec = SensorSpec{
	Key:        SENSOR_ID_VALIDATION_REJECTIONS,
	Name:       "Validation rejections",
	Unit:       "rejections",
	Icon:       "mdi:alert-check",
	Diagnostic: true,
}

// SensorSpecs returns the published sensor table for a category.
func SensorSpecs(category renogymodbus.DeviceCategory) []SensorSpec {
	var specs []SensorSpec
	switch category {
	case renogymodbus.CategoryController:
		specs = controllerSensorSpecs
	case renogymodbus.CategoryBattery:
		specs = batterySensorSpecs
	case renogymodbus.CategoryInverter:
		specs = inverterSensorSpecs
	}
	out := make([]SensorSpec, 0, len(specs)+1)
	out = append(out, specs...)
	out = append(out, validationSensorSpec)
	return out
}

// BinarySensorSpecs returns the published binary sensor table for a category.
func BinarySensorSpecs(category renogymodbus.DeviceCategory) []BinarySensorSpec {
	switch category {
	case renogymodbus.CategoryBattery:
		return batteryBinarySensorSpecs
	case renogymodbus.CategoryInverter:
		return inverterBinarySensorSpecs
	}
	return nil
}

// BridgeDevice is the HA device representing this bridge process.
func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("renogy_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "Renogy",
		Model:        "BLE Monitor",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Renogy BLE Monitor %s", md5HashShort(baseTopic)),
	}
}

// MonitoredDevice builds the HA device for one configured Renogy unit.
func MonitoredDevice(deviceID, displayName string, category renogymodbus.DeviceCategory, bridge Device) Device {
	return Device{
		Id:           deviceID,
		Name:         displayName,
		Manufacturer: "Renogy",
		Model:        string(category),
		ViaDevice:    bridge.Id,
	}
}

// DeviceSensors expands a category's sensor table for a concrete device.
func DeviceSensors(device Device, category renogymodbus.DeviceCategory) []GenericSensor {
	specs := SensorSpecs(category)
	sensors := make([]GenericSensor, 0, len(specs))
	for _, spec := range specs {
		sensor := GenericSensor{
			Device:            device,
			Id:                sensorId(device.Id, spec.Key),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              spec.Name,
			StateClass:        spec.StateClass,
			DeviceClass:       spec.DeviceClass,
			UnitOfMeasurement: spec.Unit,
			Icon:              spec.Icon,
			EnabledByDefault:  spec.EnabledByDefault,
			UniqueId:          uniqueId(device.Id, spec.Key),
		}
		if spec.Diagnostic {
			sensor.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
		}
		sensors = append(sensors, sensor)
	}
	return sensors
}

// DeviceBinarySensors expands a category's binary sensor table.
func DeviceBinarySensors(device Device, category renogymodbus.DeviceCategory) []GenericBinarySensor {
	specs := BinarySensorSpecs(category)
	sensors := make([]GenericBinarySensor, 0, len(specs))
	for _, spec := range specs {
		sensors = append(sensors, GenericBinarySensor{
			Device:      device,
			Id:          sensorId(device.Id, spec.Key),
			Name:        spec.Name,
			DeviceClass: spec.DeviceClass,
			Icon:        spec.Icon,
			UniqueId:    uniqueId(device.Id, spec.Key),
		})
	}
	return sensors
}

// BridgeSensors returns the bridge's own connectivity sensor.
func BridgeSensors(bridgeDevice Device) []GenericBinarySensor {
	return []GenericBinarySensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func sensorId(deviceID, key string) string {
	return fmt.Sprintf("%s_%s", deviceID, key)
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	return md5Hash(text)[0:8]
}
