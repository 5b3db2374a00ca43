package renogymodbus

// Inverters behind a BT-2 module.
// Register map follows the Renogy Inverter Modbus protocol V1.8.

// 0xFFFF on the AC input registers means no data, the inverter is running
// off battery
const inverterNoData = 65000

func decodeInverterBlock(register uint16, payload []byte) (Fields, error) {
	switch register {
	case 4000:
		return decodeInverterMainStatus(payload)
	case 4303:
		return decodeInverterDeviceInfo(payload)
	}
	return nil, &DecodeError{Category: CategoryInverter, Register: register, Reason: "unknown register block"}
}

// status high word faults (bits 31-16 of the device status double word)
var inverterHighFaults = []struct {
	bit  uint
	name string
}{
	{15, "input_uvp"},
	{14, "input_ovp"},
	{13, "output_overload"},
	{12, "dcdc_overload"},
	{11, "dcdc_overcurrent"},
	{10, "bus_overvoltage"},
	{9, "ground_fault"},
	{8, "over_temperature"},
	{7, "output_short_circuit"},
	{6, "output_uvp"},
	{5, "output_ovp"},
}

// status low word faults (bits 15-0)
var inverterLowFaults = []struct {
	bit  uint
	name string
}{
	{15, "utility_fail"},
	{14, "battery_low"},
	{13, "apr_active"},
	{12, "ups_fail"},
	{9, "shutdown_active"},
	{7, "fan_locked"},
	{6, "inverter_overload"},
	{5, "inverter_short_circuit"},
	{4, "battery_bad"},
}

func decodeInverterMainStatus(payload []byte) (Fields, error) {
	if len(payload) < 18 {
		return nil, shortPayloadError(CategoryInverter, 4000, len(payload), 18)
	}

	safe := func(raw uint32, scale float64) float64 {
		if raw >= inverterNoData {
			return 0
		}
		return round2(float64(raw) * scale)
	}

	f := Fields{
		"input_voltage": safe(uintAt(payload, 0, 2), 0.1),
		"input_current": safe(uintAt(payload, 2, 2), 0.01),

		"output_voltage":   scaledAt(payload, 4, 2, 0.1),
		"output_current":   scaledAt(payload, 6, 2, 0.01),
		"output_frequency": scaledAt(payload, 8, 2, 0.01),

		"battery_voltage": scaledAt(payload, 10, 2, 0.1),
		"temperature":     scaledAt(payload, 12, 2, 0.1),
	}

	statusHigh := uintAt(payload, 14, 2)
	statusLow := uintAt(payload, 16, 2)

	faults := []string{}
	for _, fb := range inverterHighFaults {
		if statusHigh&(1<<fb.bit) != 0 {
			faults = append(faults, fb.name)
		}
	}
	for _, fb := range inverterLowFaults {
		if statusLow&(1<<fb.bit) != 0 {
			faults = append(faults, fb.name)
		}
	}
	f["faults"] = faults
	f["fault_count"] = len(faults)
	f["eco_mode"] = statusHigh&(1<<4) != 0
	f["ups_line_interactive"] = statusLow&(1<<11) != 0
	f["test_in_progress"] = statusLow&(1<<10) != 0
	f["beeper_on"] = statusLow&(1<<8) != 0

	if len(payload) >= 20 {
		f["input_frequency"] = safe(uintAt(payload, 18, 2), 0.01)
	}

	inV := f["input_voltage"].(float64)
	inC := f["input_current"].(float64)
	if inV > 0 && inC > 0 {
		f["input_power"] = round1(inV * inC)
	} else {
		f["input_power"] = 0.0
	}
	f["output_power"] = round1(f["output_voltage"].(float64) * f["output_current"].(float64))
	return f, nil
}

func decodeInverterDeviceInfo(payload []byte) (Fields, error) {
	if len(payload) < 48 {
		return nil, shortPayloadError(CategoryInverter, 4303, len(payload), 48)
	}
	return Fields{
		"manufacturer":     asciiAt(payload, 0, 16),
		"model":            asciiAt(payload, 16, 16),
		"firmware_version": asciiAt(payload, 32, 16),
	}, nil
}
