package renogymodbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordsToPayload(words []uint16) []byte {
	payload := make([]byte, 0, len(words)*2)
	for _, w := range words {
		payload = append(payload, byte(w>>8), byte(w))
	}
	return payload
}

func TestParseDeviceCategory(t *testing.T) {
	cat, err := ParseDeviceCategory(" Controller ")
	require.NoError(t, err)
	assert.Equal(t, CategoryController, cat)

	_, err = ParseDeviceCategory("toaster")
	assert.Error(t, err)
}

func TestBlocksPerCategory(t *testing.T) {
	assert.Len(t, Blocks(CategoryController), 6)
	assert.Len(t, Blocks(CategoryBattery), 5)
	assert.Len(t, Blocks(CategoryInverter), 2)
	assert.Nil(t, Blocks(DeviceCategory("nope")))
}

func TestDecodeControllerChargingInfo(t *testing.T) {
	require := require.New(t)

	words := make([]uint16, 34)
	words[0] = 85         // battery percentage
	words[1] = 132        // battery voltage, 13.2 V
	words[2] = 123        // battery current, 1.23 A
	words[3] = 25<<8 | 130 // controller temp 25, battery temp raw 130 -> -2
	words[7] = 185        // pv voltage, 18.5 V
	words[8] = 250        // pv current, 2.5 A
	words[9] = 46         // pv power
	words[32] = 0x8002    // load on, charging status mppt

	fields, err := Decode(CategoryController, 256, wordsToPayload(words))
	require.NoError(err)

	assert.Equal(t, 85, fields["battery_percentage"])
	assert.InDelta(t, 13.2, fields["battery_voltage"], 0.001)
	assert.InDelta(t, 1.23, fields["battery_current"], 0.001)
	assert.InDelta(t, 25.0, fields["controller_temperature"], 0.001)
	assert.InDelta(t, -2.0, fields["battery_temperature"], 0.001)
	assert.InDelta(t, 18.5, fields["pv_voltage"], 0.001)
	assert.InDelta(t, 2.5, fields["pv_current"], 0.001)
	assert.Equal(t, 46, fields["pv_power"])
	assert.Equal(t, "on", fields["load_status"])
	assert.Equal(t, "mppt", fields["charging_status"])
}

func TestDecodeControllerChargingStatusUnknownCode(t *testing.T) {
	words := make([]uint16, 34)
	words[32] = 0x0009

	fields, err := Decode(CategoryController, 256, wordsToPayload(words))
	require.NoError(t, err)
	assert.Equal(t, "unknown(9)", fields["charging_status"])
	assert.Equal(t, "off", fields["load_status"])
}

func TestDecodeControllerFaults(t *testing.T) {
	// battery_overvoltage (17), battery_undervoltage warning (18),
	// load_short_circuit (19)
	bits := uint32(1<<17 | 1<<18 | 1<<19)
	payload := []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}

	fields, err := Decode(CategoryController, 289, payload)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"load_short_circuit", "battery_overvoltage"}, fields["faults"])
	assert.Equal(t, []string{"battery_undervoltage"}, fields["warnings"])
	assert.Equal(t, 2, fields["fault_count"])
	assert.Equal(t, 1, fields["warning_count"])
}

func TestDecodeControllerHistorical(t *testing.T) {
	words := make([]uint16, 21)
	for i := 0; i < 7; i++ {
		words[i] = uint16(100 + i)
		words[7+i] = uint16(10 + i)
		words[14+i] = uint16(200 + i)
	}

	fields, err := Decode(CategoryController, 60000, wordsToPayload(words))
	require.NoError(t, err)

	gen := fields["daily_power_generation"].([]float64)
	require.Len(t, gen, 7)
	assert.EqualValues(t, 100, gen[0])
	assert.EqualValues(t, 106, gen[6])
	assert.EqualValues(t, 206, fields["daily_max_power"].([]float64)[6])
}

func TestDecodeBatteryInfoSoC(t *testing.T) {
	require := require.New(t)

	words := []uint16{
		150,            // current, 1.5 A
		132,            // voltage, 13.2 V
		0x0000, 0xC350, // remaining 50000 -> 50 Ah
		0x0001, 0x86A0, // total 100000 -> 100 Ah
		0, 0,
	}
	fields, err := Decode(CategoryBattery, 5042, wordsToPayload(words))
	require.NoError(err)

	assert.InDelta(t, 1.5, fields["current"], 0.001)
	assert.InDelta(t, 13.2, fields["voltage"], 0.001)
	assert.InDelta(t, 50.0, fields["remaining_capacity"], 0.001)
	assert.InDelta(t, 100.0, fields["total_capacity"], 0.001)
	assert.InDelta(t, 50.0, fields["soc"], 0.001)
	assert.InDelta(t, 19.8, fields["power"], 0.001)
}

func TestDecodeBatteryInfoZeroCapacity(t *testing.T) {
	words := []uint16{0, 132, 0, 0, 0, 0, 0, 0}
	fields, err := Decode(CategoryBattery, 5042, wordsToPayload(words))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fields["soc"], 0.001)
}

func TestDecodeBatteryNegativeCurrent(t *testing.T) {
	words := []uint16{0xFF6A, 132, 0, 50000, 0x0001, 0x86A0, 0, 0} // -1.5 A
	fields, err := Decode(CategoryBattery, 5042, wordsToPayload(words))
	require.NoError(t, err)
	assert.InDelta(t, -1.5, fields["current"], 0.001)
	assert.InDelta(t, -19.8, fields["power"], 0.001)
}

func TestDecodeBatteryCellInfo(t *testing.T) {
	words := make([]uint16, 17)
	words[0] = 4
	words[1], words[2], words[3], words[4] = 33, 33, 34, 33 // 0.1 V units

	fields, err := Decode(CategoryBattery, 5000, wordsToPayload(words))
	require.NoError(t, err)

	assert.Equal(t, 4, fields["cell_count"])
	voltages := fields["cell_voltages"].([]float64)
	require.Len(t, voltages, 4)
	assert.InDelta(t, 3.3, voltages[0], 0.001)
	assert.InDelta(t, 3.4, voltages[2], 0.001)
}

func TestDecodeBatteryCellCountClamped(t *testing.T) {
	words := make([]uint16, 17)
	words[0] = 99

	fields, err := Decode(CategoryBattery, 5000, wordsToPayload(words))
	require.NoError(t, err)
	assert.Equal(t, 16, fields["cell_count"])
	// only 16 voltage slots exist in the block
	assert.Len(t, fields["cell_voltages"], 16)
}

func TestDecodeBatteryTempInfoSigned(t *testing.T) {
	words := make([]uint16, 17)
	words[0] = 2
	words[1] = 0xFFCE // -5.0
	words[2] = 215    // 21.5

	fields, err := Decode(CategoryBattery, 5017, wordsToPayload(words))
	require.NoError(t, err)

	temps := fields["temperatures"].([]float64)
	require.Len(t, temps, 2)
	assert.InDelta(t, -5.0, temps[0], 0.001)
	assert.InDelta(t, 21.5, temps[1], 0.001)
	assert.InDelta(t, -5.0, fields["battery_temperature"], 0.001)
}

func TestDecodeBatteryStatusInfo(t *testing.T) {
	require := require.New(t)

	words := make([]uint16, 10)
	words[1] = 0x0009 // cell 1 undervoltage, cell 2 overvoltage
	words[6] = 1<<2 | 1<<1
	words[7] = 1<<13 | 1<<11 // heater on, fully charged
	words[9] = 1<<7 | 1<<6   // discharge + charge enabled

	fields, err := Decode(CategoryBattery, 5100, wordsToPayload(words))
	require.NoError(err)

	assert.Equal(t, []string{"cell_1_undervoltage", "cell_2_overvoltage"}, fields["cell_voltage_alarms"])
	assert.Equal(t, "on", fields["charge_mosfet"])
	assert.Equal(t, "on", fields["discharge_mosfet"])
	assert.Equal(t, true, fields["heater_on"])
	assert.Equal(t, true, fields["fully_charged"])
	assert.Equal(t, true, fields["charge_enabled"])
	assert.Equal(t, true, fields["discharge_enabled"])
	assert.Equal(t, 2, fields["alarm_count"])
}

func TestDecodeInverterMainStatus(t *testing.T) {
	require := require.New(t)

	words := []uint16{
		1200,   // input 120.0 V
		520,    // input 5.2 A
		1210,   // output 121.0 V
		480,    // output 4.8 A
		6001,   // 60.01 Hz
		134,    // battery 13.4 V
		305,    // 30.5 C
		0x0010, // eco mode bit
		0x0100, // beeper on
		5999,   // input 59.99 Hz
	}
	fields, err := Decode(CategoryInverter, 4000, wordsToPayload(words))
	require.NoError(err)

	assert.InDelta(t, 120.0, fields["input_voltage"], 0.001)
	assert.InDelta(t, 5.2, fields["input_current"], 0.001)
	assert.InDelta(t, 121.0, fields["output_voltage"], 0.001)
	assert.InDelta(t, 60.01, fields["output_frequency"], 0.001)
	assert.InDelta(t, 13.4, fields["battery_voltage"], 0.001)
	assert.InDelta(t, 30.5, fields["temperature"], 0.001)
	assert.Equal(t, true, fields["eco_mode"])
	assert.Equal(t, true, fields["beeper_on"])
	assert.Equal(t, 0, fields["fault_count"])
	assert.InDelta(t, 59.99, fields["input_frequency"], 0.001)
	assert.InDelta(t, 624.0, fields["input_power"], 0.1)
	assert.InDelta(t, 580.8, fields["output_power"], 0.1)
}

func TestDecodeInverterNoACInput(t *testing.T) {
	words := []uint16{0xFFFF, 0xFFFF, 1210, 480, 6001, 134, 305, 0, 1 << 15, 0xFFFF}
	fields, err := Decode(CategoryInverter, 4000, wordsToPayload(words))
	require.NoError(t, err)

	assert.InDelta(t, 0.0, fields["input_voltage"], 0.001)
	assert.InDelta(t, 0.0, fields["input_current"], 0.001)
	assert.InDelta(t, 0.0, fields["input_power"], 0.001)
	assert.InDelta(t, 0.0, fields["input_frequency"], 0.001)
	assert.Contains(t, fields["faults"], "utility_fail")
}

func TestDecodeInverterDeviceInfo(t *testing.T) {
	payload := make([]byte, 48)
	copy(payload[0:], "RENOGY")
	copy(payload[16:], "RINVTPGH110111S")
	copy(payload[32:], "1.0.2")

	fields, err := Decode(CategoryInverter, 4303, payload)
	require.NoError(t, err)
	assert.Equal(t, "RENOGY", fields["manufacturer"])
	assert.Equal(t, "RINVTPGH110111S", fields["model"])
	assert.Equal(t, "1.0.2", fields["firmware_version"])
}

func TestDecodeShortPayload(t *testing.T) {
	_, err := Decode(CategoryBattery, 5042, []byte{0x00, 0x01})

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CategoryBattery, de.Category)
	assert.EqualValues(t, 5042, de.Register)
}

func TestDecodeUnknownRegister(t *testing.T) {
	_, err := Decode(CategoryController, 9999, make([]byte, 64))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
}
