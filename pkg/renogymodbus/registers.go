package renogymodbus

import (
	"fmt"
	"math"
	"strings"
)

type DeviceCategory string

const (
	CategoryController DeviceCategory = "controller"
	CategoryBattery    DeviceCategory = "battery"
	CategoryInverter   DeviceCategory = "inverter"
)

// ParseDeviceCategory maps a config string to a category.
func ParseDeviceCategory(s string) (DeviceCategory, error) {
	switch DeviceCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryController:
		return CategoryController, nil
	case CategoryBattery:
		return CategoryBattery, nil
	case CategoryInverter:
		return CategoryInverter, nil
	}
	return "", fmt.Errorf("unknown device category %q", s)
}

// RegisterBlock names a contiguous register range polled in one request.
type RegisterBlock struct {
	Name     string
	Register uint16
	Words    uint16
}

var controllerBlocks = []RegisterBlock{
	{Name: "device_info", Register: 12, Words: 8},
	{Name: "device_id", Register: 26, Words: 1},
	{Name: "charging_info", Register: 256, Words: 34},
	{Name: "faults", Register: 289, Words: 2},
	{Name: "battery_type", Register: 57348, Words: 1},
	{Name: "historical", Register: 60000, Words: 21},
}

var batteryBlocks = []RegisterBlock{
	{Name: "cell_info", Register: 5000, Words: 17},
	{Name: "temp_info", Register: 5017, Words: 17},
	{Name: "battery_info", Register: 5042, Words: 8},
	{Name: "status_info", Register: 5100, Words: 10},
	{Name: "device_info", Register: 5122, Words: 8},
}

// Registers past 4009 only exist on bidirectional storage inverters. Simple
// models answer them with illegal data address, so only the common set is
// polled.
var inverterBlocks = []RegisterBlock{
	{Name: "main_status", Register: 4000, Words: 10},
	{Name: "device_info", Register: 4303, Words: 24},
}

// Blocks returns the poll plan for a device category. The returned slice is
// shared and must not be mutated.
func Blocks(category DeviceCategory) []RegisterBlock {
	switch category {
	case CategoryController:
		return controllerBlocks
	case CategoryBattery:
		return batteryBlocks
	case CategoryInverter:
		return inverterBlocks
	}
	return nil
}

// Fields is a decoded register block: field name to scalar, string, bool,
// []float64 or []string value.
type Fields map[string]any

// DecodeError reports a payload that cannot be decoded for the block it was
// requested for.
type DecodeError struct {
	Category DeviceCategory
	Register uint16
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s register %d: %s", e.Category, e.Register, e.Reason)
}

func shortPayloadError(category DeviceCategory, register uint16, got, want int) *DecodeError {
	return &DecodeError{
		Category: category,
		Register: register,
		Reason:   fmt.Sprintf("payload too short: %d bytes, need %d", got, want),
	}
}

// Decode dispatches a register payload to the block decoder for the category.
// The payload is the register bytes only, with the frame header and CRC
// already stripped.
func Decode(category DeviceCategory, register uint16, payload []byte) (Fields, error) {
	switch category {
	case CategoryController:
		return decodeControllerBlock(register, payload)
	case CategoryBattery:
		return decodeBatteryBlock(register, payload)
	case CategoryInverter:
		return decodeInverterBlock(register, payload)
	}
	return nil, &DecodeError{Category: category, Register: register, Reason: "unknown category"}
}

// big-endian byte helpers, mirroring the vendor register encoding

func uintAt(data []byte, offset, length int) uint32 {
	var v uint32
	for i := 0; i < length; i++ {
		v = v<<8 | uint32(data[offset+i])
	}
	return v
}

func intAt(data []byte, offset, length int) int32 {
	v := uintAt(data, offset, length)
	switch length {
	case 1:
		return int32(int8(v))
	case 2:
		return int32(int16(v))
	default:
		return int32(v)
	}
}

func scaledAt(data []byte, offset, length int, scale float64) float64 {
	return round3(float64(uintAt(data, offset, length)) * scale)
}

func signedScaledAt(data []byte, offset, length int, scale float64) float64 {
	return round3(float64(intAt(data, offset, length)) * scale)
}

func asciiAt(data []byte, offset, length int) string {
	var sb strings.Builder
	for i := 0; i < length && offset+i < len(data); i++ {
		c := data[offset+i]
		if c >= 32 && c <= 126 {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// signBitTemperature decodes the sign-and-magnitude temperature bytes used by
// charge controllers: values above 127 are negative.
func signBitTemperature(raw uint32) float64 {
	if raw > 127 {
		return -float64(raw - 128)
	}
	return float64(raw)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func enumLabel(table map[uint32]string, code uint32) string {
	if label, ok := table[code]; ok {
		return label
	}
	return fmt.Sprintf("unknown(%d)", code)
}
