package service

import (
	"fmt"
	"math"
	"time"

	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"go.uber.org/zap"
)

const maxRejectionLog = 100

// FieldLimit bounds one sensor field: absolute range plus the largest change
// accepted between two consecutive readings.
type FieldLimit struct {
	Min      float64
	Max      float64
	MaxDelta float64
}

// Rejection records one discarded field value.
type Rejection struct {
	Timestamp time.Time
	Field     string
	Value     float64
	Reason    string
	LastGood  *float64
}

// RejectionStats summarizes the rejection log for diagnostics publishing.
type RejectionStats struct {
	TotalRejections int
	CountsByField   map[string]int
	LastRejection   *Rejection
}

// controllerLimits covers the Rover/Wanderer controllers, which occasionally
// emit garbage spikes over BLE.
var controllerLimits = map[string]FieldLimit{
	"battery_voltage":             {Min: 0, Max: 20, MaxDelta: 5},
	"battery_current":             {Min: -100, Max: 100, MaxDelta: 50},
	"battery_percentage":          {Min: 0, Max: 100, MaxDelta: 50},
	"battery_temperature":         {Min: -40, Max: 85, MaxDelta: 20},
	"charging_amp_hours_today":    {Min: 0, Max: 10000, MaxDelta: 200},
	"discharging_amp_hours_today": {Min: 0, Max: 10000, MaxDelta: 200},

	"pv_voltage":               {Min: 0, Max: 25, MaxDelta: 10},
	"pv_current":               {Min: 0, Max: 100, MaxDelta: 50},
	"pv_power":                 {Min: 0, Max: 5000, MaxDelta: 2000},
	"max_charging_power_today": {Min: 0, Max: 5000, MaxDelta: 5000},
	"power_generation_today":   {Min: 0, Max: 50000, MaxDelta: 50000},
	"power_generation_total":   {Min: 0, Max: 1000000000, MaxDelta: 100000},

	"load_voltage":                 {Min: 0, Max: 20, MaxDelta: 20},
	"load_current":                 {Min: 0, Max: 20, MaxDelta: 20},
	"load_power":                   {Min: 0, Max: 3000, MaxDelta: 1500},
	"power_consumption_today":      {Min: 0, Max: 50000, MaxDelta: 50000},
	"max_discharging_power_today":  {Min: 0, Max: 3000, MaxDelta: 3000},

	"controller_temperature": {Min: -40, Max: 85, MaxDelta: 20},
}

// DefaultLimits returns the built-in limit table for a category. Only
// controllers need one out of the box; the other categories validate
// nothing unless configured.
func DefaultLimits(category renogymodbus.DeviceCategory) map[string]FieldLimit {
	if category != renogymodbus.CategoryController {
		return map[string]FieldLimit{}
	}
	limits := make(map[string]FieldLimit, len(controllerLimits))
	for k, v := range controllerLimits {
		limits[k] = v
	}
	return limits
}

// DataValidator filters decoded readings for one device. It keeps the last
// accepted value per field so a single garbled reading cannot poison the
// published state. Its memory is never reset: a reconnect must not open a
// window for spikes.
type DataValidator struct {
	deviceName string
	limits     map[string]FieldLimit
	lastGood   map[string]float64
	log        []Rejection
	total      int
	logger     *zap.Logger
}

func NewDataValidator(deviceName string, limits map[string]FieldLimit, logger *zap.Logger) *DataValidator {
	return &DataValidator{
		deviceName: deviceName,
		limits:     limits,
		lastGood:   map[string]float64{},
		logger:     logger,
	}
}

// Validate screens a decoded reading. Fields without a limit, and non-numeric
// fields, pass through untouched. An out-of-range value is replaced by the
// last accepted value, or dropped when there is none yet. A value jumping
// more than MaxDelta from the last accepted value is treated as a spike and
// replaced. Accepted values update the memory.
func (v *DataValidator) Validate(fields renogymodbus.Fields) (renogymodbus.Fields, []Rejection) {
	if len(v.limits) == 0 {
		return fields, nil
	}

	validated := make(renogymodbus.Fields, len(fields))
	for k, val := range fields {
		validated[k] = val
	}

	var rejections []Rejection
	for key, raw := range fields {
		limit, ok := v.limits[key]
		if !ok {
			continue
		}
		value, ok := numericValue(raw)
		if !ok {
			continue
		}

		reason := ""
		switch {
		case value < limit.Min:
			reason = fmt.Sprintf("below_minimum (value=%v, min=%v)", value, limit.Min)
		case value > limit.Max:
			reason = fmt.Sprintf("above_maximum (value=%v, max=%v)", value, limit.Max)
		default:
			if last, seen := v.lastGood[key]; seen {
				if change := math.Abs(value - last); change > limit.MaxDelta {
					reason = fmt.Sprintf("spike_detected (value=%v, last=%v, change=%.2f, max_change=%v)",
						value, last, change, limit.MaxDelta)
				}
			}
		}

		if reason == "" {
			v.lastGood[key] = value
			continue
		}

		rejection := Rejection{
			Timestamp: time.Now(),
			Field:     key,
			Value:     value,
			Reason:    reason,
		}
		if last, seen := v.lastGood[key]; seen {
			lastCopy := last
			rejection.LastGood = &lastCopy
			validated[key] = last
		} else {
			// nothing trustworthy to fall back on
			delete(validated, key)
		}
		rejections = append(rejections, rejection)
		v.appendRejection(rejection)

		v.logger.Warn("reading rejected",
			zap.String("device", v.deviceName),
			zap.String("field", key),
			zap.Float64("value", value),
			zap.String("reason", reason))
	}
	return validated, rejections
}

func (v *DataValidator) appendRejection(r Rejection) {
	v.total++
	v.log = append(v.log, r)
	if len(v.log) > maxRejectionLog {
		v.log = v.log[len(v.log)-maxRejectionLog:]
	}
}

// Stats summarizes the rejection log. TotalRejections counts every rejection
// since startup; CountsByField only covers the bounded log window.
func (v *DataValidator) Stats() RejectionStats {
	stats := RejectionStats{CountsByField: map[string]int{}}
	stats.TotalRejections = v.total
	for i := range v.log {
		stats.CountsByField[v.log[i].Field]++
	}
	if len(v.log) > 0 {
		last := v.log[len(v.log)-1]
		stats.LastRejection = &last
	}
	return stats
}

func numericValue(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
