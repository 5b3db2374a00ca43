package renogymodbus

// Rover/Wanderer charge controllers behind a BT-1 module.
// Register map follows the Renogy SRNE protocol.

var controllerChargingState = map[uint32]string{
	0: "deactivated",
	1: "activated",
	2: "mppt",
	3: "equalizing",
	4: "boost",
	5: "floating",
	6: "current_limiting",
}

var controllerLoadState = map[uint32]string{
	0: "off",
	1: "on",
}

var controllerBatteryType = map[uint32]string{
	1: "open",
	2: "sealed",
	3: "gel",
	4: "lithium",
	5: "custom",
}

func decodeControllerBlock(register uint16, payload []byte) (Fields, error) {
	switch register {
	case 12:
		return decodeControllerDeviceInfo(payload)
	case 26:
		return decodeControllerDeviceID(payload)
	case 256:
		return decodeControllerChargingInfo(payload)
	case 289:
		return decodeControllerFaults(payload)
	case 57348:
		return decodeControllerBatteryType(payload)
	case 60000:
		return decodeControllerHistorical(payload)
	}
	return nil, &DecodeError{Category: CategoryController, Register: register, Reason: "unknown register block"}
}

func decodeControllerDeviceInfo(payload []byte) (Fields, error) {
	if len(payload) < 16 {
		return nil, shortPayloadError(CategoryController, 12, len(payload), 16)
	}
	return Fields{
		"model": asciiAt(payload, 0, 16),
	}, nil
}

func decodeControllerDeviceID(payload []byte) (Fields, error) {
	if len(payload) < 2 {
		return nil, shortPayloadError(CategoryController, 26, len(payload), 2)
	}
	return Fields{
		"device_id": int(uintAt(payload, 0, 1)),
	}, nil
}

// decodeControllerChargingInfo covers the main live data section
// (registers 256-289): battery, load, PV and daily statistics.
func decodeControllerChargingInfo(payload []byte) (Fields, error) {
	if len(payload) < 68 {
		return nil, shortPayloadError(CategoryController, 256, len(payload), 68)
	}
	f := Fields{
		"battery_percentage": int(uintAt(payload, 0, 2)),
		"battery_voltage":    scaledAt(payload, 2, 2, 0.1),
		"battery_current":    scaledAt(payload, 4, 2, 0.01),

		"controller_temperature": signBitTemperature(uintAt(payload, 6, 1)),
		"battery_temperature":    signBitTemperature(uintAt(payload, 7, 1)),

		"load_voltage": scaledAt(payload, 8, 2, 0.1),
		"load_current": scaledAt(payload, 10, 2, 0.01),
		"load_power":   int(uintAt(payload, 12, 2)),

		"pv_voltage": scaledAt(payload, 14, 2, 0.1),
		"pv_current": scaledAt(payload, 16, 2, 0.01),
		"pv_power":   int(uintAt(payload, 18, 2)),

		"max_charging_power_today":    int(uintAt(payload, 30, 2)),
		"max_discharging_power_today": int(uintAt(payload, 32, 2)),
		"charging_amp_hours_today":    int(uintAt(payload, 34, 2)),
		"discharging_amp_hours_today": int(uintAt(payload, 36, 2)),
		"power_generation_today":      int(uintAt(payload, 38, 2)),
		"power_consumption_today":     int(uintAt(payload, 40, 2)),

		"power_generation_total": int(uintAt(payload, 56, 4)),
	}
	f["load_status"] = enumLabel(controllerLoadState, (uintAt(payload, 64, 1)>>7)&1)
	f["charging_status"] = enumLabel(controllerChargingState, uintAt(payload, 65, 1))
	return f, nil
}

func decodeControllerBatteryType(payload []byte) (Fields, error) {
	if len(payload) < 2 {
		return nil, shortPayloadError(CategoryController, 57348, len(payload), 2)
	}
	return Fields{
		"battery_type": enumLabel(controllerBatteryType, uintAt(payload, 0, 2)),
	}, nil
}

// controllerFaultBits maps bits of the 32-bit fault word (registers
// 289-290, high word first) to fault names. Bit 18 is a warning.
var controllerFaultBits = []struct {
	bit  uint
	name string
}{
	{30, "charge_mos_short_circuit"},
	{29, "anti_reverse_mos_short"},
	{28, "solar_panel_reversed"},
	{27, "pv_working_point_overvoltage"},
	{26, "pv_counter_current"},
	{25, "pv_input_overvoltage"},
	{24, "pv_input_short_circuit"},
	{23, "pv_input_overpower"},
	{22, "ambient_temp_too_high"},
	{21, "controller_temp_too_high"},
	{20, "load_overpower"},
	{19, "load_short_circuit"},
	{17, "battery_overvoltage"},
	{16, "battery_over_discharge"},
}

func decodeControllerFaults(payload []byte) (Fields, error) {
	if len(payload) < 4 {
		return nil, shortPayloadError(CategoryController, 289, len(payload), 4)
	}
	bits := uintAt(payload, 0, 2)<<16 | uintAt(payload, 2, 2)

	faults := []string{}
	warnings := []string{}
	for _, fb := range controllerFaultBits {
		if bits&(1<<fb.bit) != 0 {
			faults = append(faults, fb.name)
		}
	}
	if bits&(1<<18) != 0 {
		warnings = append(warnings, "battery_undervoltage")
	}
	return Fields{
		"faults":        faults,
		"warnings":      warnings,
		"fault_count":   len(faults),
		"warning_count": len(warnings),
	}, nil
}

// decodeControllerHistorical returns the 7-day history arrays
// (registers 60000-60020): Wh generated, Ah charged and max power per day.
func decodeControllerHistorical(payload []byte) (Fields, error) {
	if len(payload) < 42 {
		return nil, shortPayloadError(CategoryController, 60000, len(payload), 42)
	}
	days := func(base int) []float64 {
		out := make([]float64, 7)
		for i := range out {
			out[i] = float64(uintAt(payload, base+i*2, 2))
		}
		return out
	}
	return Fields{
		"daily_power_generation": days(0),
		"daily_charge_ah":        days(14),
		"daily_max_power":        days(28),
	}, nil
}
