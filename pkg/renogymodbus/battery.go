package renogymodbus

import "fmt"

// LiFePO4 batteries behind a BT-2 module.
// Register map follows the Renogy/RongSi BMS Modbus protocol V1.7.

const maxBatteryCells = 16

func decodeBatteryBlock(register uint16, payload []byte) (Fields, error) {
	switch register {
	case 5000:
		return decodeBatteryCellInfo(payload)
	case 5017:
		return decodeBatteryTempInfo(payload)
	case 5042:
		return decodeBatteryInfo(payload)
	case 5100:
		return decodeBatteryStatusInfo(payload)
	case 5122:
		return decodeBatteryDeviceInfo(payload)
	}
	return nil, &DecodeError{Category: CategoryBattery, Register: register, Reason: "unknown register block"}
}

func decodeBatteryCellInfo(payload []byte) (Fields, error) {
	if len(payload) < 4 {
		return nil, shortPayloadError(CategoryBattery, 5000, len(payload), 4)
	}
	count := int(uintAt(payload, 0, 2))
	if count > maxBatteryCells {
		count = maxBatteryCells
	}
	voltages := []float64{}
	for i := 0; i < count && 2+i*2+2 <= len(payload); i++ {
		voltages = append(voltages, round2(scaledAt(payload, 2+i*2, 2, 0.1)))
	}
	return Fields{
		"cell_count":    count,
		"cell_voltages": voltages,
	}, nil
}

func decodeBatteryTempInfo(payload []byte) (Fields, error) {
	if len(payload) < 4 {
		return nil, shortPayloadError(CategoryBattery, 5017, len(payload), 4)
	}
	count := int(uintAt(payload, 0, 2))
	if count > 8 {
		count = 8
	}
	temps := []float64{}
	for i := 0; i < count && 2+i*2+2 <= len(payload); i++ {
		temps = append(temps, round1(signedScaledAt(payload, 2+i*2, 2, 0.1)))
	}
	f := Fields{
		"temperature_count": count,
		"temperatures":      temps,
	}
	// first sensor doubles as the main battery temperature
	if len(temps) > 0 {
		f["battery_temperature"] = temps[0]
	}
	return f, nil
}

func decodeBatteryInfo(payload []byte) (Fields, error) {
	if len(payload) < 12 {
		return nil, shortPayloadError(CategoryBattery, 5042, len(payload), 12)
	}
	current := signedScaledAt(payload, 0, 2, 0.01)
	voltage := scaledAt(payload, 2, 2, 0.1)
	remaining := scaledAt(payload, 4, 4, 0.001)
	total := scaledAt(payload, 8, 4, 0.001)

	soc := 0.0
	if total > 0 {
		soc = round1(remaining / total * 100)
	}
	return Fields{
		"current":            current,
		"voltage":            voltage,
		"remaining_capacity": remaining,
		"total_capacity":     total,
		"soc":                soc,
		"power":              round1(voltage * current),
	}, nil
}

// status1 protection bits, register 5106, highest bit first
var batteryStatus1Protections = []struct {
	bit  uint
	name string
}{
	{15, "module_undervoltage"},
	{14, "charge_overtemp"},
	{13, "charge_undertemp"},
	{12, "discharge_overtemp"},
	{11, "discharge_undertemp"},
	{10, "discharge_overcurrent1"},
	{9, "charge_overcurrent1"},
	{8, "cell_overvoltage"},
	{7, "cell_undervoltage"},
	{6, "module_overvoltage"},
	{5, "discharge_overcurrent2"},
	{4, "charge_overcurrent2"},
	{0, "short_circuit"},
}

// status3 warning bits, register 5108, low byte
var batteryStatus3Warnings = []struct {
	bit  uint
	name string
}{
	{7, "discharge_high_temp"},
	{6, "discharge_low_temp"},
	{5, "charge_high_temp"},
	{4, "charge_low_temp"},
	{3, "module_high_voltage"},
	{2, "module_low_voltage"},
	{1, "cell_high_voltage"},
	{0, "cell_low_voltage"},
}

// per-sensor alarm pairs in the "other alarm" double word (registers
// 5104-5105), two bits per entry: 01 low, 10 high, 11 other
var batteryOtherAlarmBits = []struct {
	bit  uint
	name string
}{
	{0, "bms_board_temp"},
	{4, "env_temp_1"},
	{8, "env_temp_2"},
	{12, "heater_temp_1"},
	{16, "heater_temp_2"},
	{20, "charge_current"},
	{24, "discharge_current"},
}

// decodeBatteryStatusInfo parses the alarm and status registers 5100-5109.
// Two-bit alarm codes: 00 normal, 01 below lower limit, 10 above higher
// limit, 11 other alarm.
func decodeBatteryStatusInfo(payload []byte) (Fields, error) {
	if len(payload) < 20 {
		return nil, shortPayloadError(CategoryBattery, 5100, len(payload), 20)
	}

	cellVoltageAlarms := []string{}
	cellVoltageWord := uintAt(payload, 0, 4)
	for cell := 0; cell < maxBatteryCells; cell++ {
		switch (cellVoltageWord >> (uint(cell) * 2)) & 0x03 {
		case 1:
			cellVoltageAlarms = append(cellVoltageAlarms, fmt.Sprintf("cell_%d_undervoltage", cell+1))
		case 2:
			cellVoltageAlarms = append(cellVoltageAlarms, fmt.Sprintf("cell_%d_overvoltage", cell+1))
		case 3:
			cellVoltageAlarms = append(cellVoltageAlarms, fmt.Sprintf("cell_%d_alarm", cell+1))
		}
	}

	cellTempAlarms := []string{}
	cellTempWord := uintAt(payload, 4, 4)
	for cell := 0; cell < maxBatteryCells; cell++ {
		switch (cellTempWord >> (uint(cell) * 2)) & 0x03 {
		case 1:
			cellTempAlarms = append(cellTempAlarms, fmt.Sprintf("cell_%d_undertemp", cell+1))
		case 2:
			cellTempAlarms = append(cellTempAlarms, fmt.Sprintf("cell_%d_overtemp", cell+1))
		case 3:
			cellTempAlarms = append(cellTempAlarms, fmt.Sprintf("cell_%d_temp_alarm", cell+1))
		}
	}

	protections := []string{}
	otherWord := uintAt(payload, 8, 4)
	for _, oa := range batteryOtherAlarmBits {
		switch (otherWord >> oa.bit) & 0x03 {
		case 1:
			protections = append(protections, oa.name+"_low")
		case 2:
			protections = append(protections, oa.name+"_high")
		case 3:
			protections = append(protections, oa.name+"_alarm")
		}
	}

	status1 := uintAt(payload, 12, 2)
	for _, p := range batteryStatus1Protections {
		if status1&(1<<p.bit) != 0 {
			protections = append(protections, p.name)
		}
	}

	f := Fields{
		"using_battery_power": status1&(1<<3) != 0,
	}
	if status1&(1<<2) != 0 {
		f["discharge_mosfet"] = "on"
	} else {
		f["discharge_mosfet"] = "off"
	}
	if status1&(1<<1) != 0 {
		f["charge_mosfet"] = "on"
	} else {
		f["charge_mosfet"] = "off"
	}

	status2 := uintAt(payload, 14, 2)
	f["effective_charge"] = status2&(1<<15) != 0
	f["effective_discharge"] = status2&(1<<14) != 0
	f["heater_on"] = status2&(1<<13) != 0
	f["fully_charged"] = status2&(1<<11) != 0
	f["buzzer_on"] = status2&(1<<8) != 0

	warnings := []string{}
	status3 := uintAt(payload, 16, 2)
	for _, w := range batteryStatus3Warnings {
		if status3&(1<<w.bit) != 0 {
			warnings = append(warnings, w.name)
		}
	}
	for i := 0; i < 8; i++ {
		if status3&(1<<(8+uint(i))) != 0 {
			warnings = append(warnings, fmt.Sprintf("cell_%d_voltage_error", 11+i))
		}
	}

	status4 := uintAt(payload, 18, 2)
	f["discharge_enabled"] = status4&(1<<7) != 0
	f["charge_enabled"] = status4&(1<<6) != 0
	f["charge_immediately"] = status4&(1<<5) != 0
	f["full_charge_request"] = status4&(1<<3) != 0

	alarms := append(append(append([]string{}, cellVoltageAlarms...), cellTempAlarms...), protections...)
	f["cell_voltage_alarms"] = cellVoltageAlarms
	f["cell_temperature_alarms"] = cellTempAlarms
	f["protection_alarms"] = protections
	f["alarms"] = alarms
	f["alarm_count"] = len(alarms)
	f["warnings"] = warnings
	f["warning_count"] = len(warnings)
	return f, nil
}

func decodeBatteryDeviceInfo(payload []byte) (Fields, error) {
	if len(payload) < 16 {
		return nil, shortPayloadError(CategoryBattery, 5122, len(payload), 16)
	}
	return Fields{
		"model": asciiAt(payload, 0, 16),
	}, nil
}
