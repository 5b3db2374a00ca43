package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"go.uber.org/zap/zapcore"
)

const (
	MinPollInterval = 10 * time.Second
	MaxPollInterval = 600 * time.Second

	DefaultDeviceID   = 255
	DefaultAdapterKey = "bt1"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	Devices       []DeviceConfig         `mapstructure:"devices"`
	PollingConfig PollingConfig          `mapstructure:"polling"`
	Validation    map[string][]float64   `mapstructure:"validation"`
	Port          uint                   `mapstructure:"port"`
	HttpLog       bool                   `mapstructure:"http_log"`
}

// DeviceConfig describes one logical Renogy device. Several devices can sit
// behind the same BT module; they share an Adapter key and a MAC address but
// have distinct modbus device ids.
type DeviceConfig struct {
	Name       string `mapstructure:"name"`
	Alias      string `mapstructure:"alias"`
	MACAddress string `mapstructure:"mac_address"`
	Type       string `mapstructure:"type"`
	DeviceID   uint8  `mapstructure:"device_id"`
	Adapter    string `mapstructure:"adapter"`

	PollIntervalSeconds uint32 `mapstructure:"poll_interval_seconds"`
}

type PollingConfig struct {
	IntervalSeconds uint32 `mapstructure:"interval_seconds"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// Category returns the parsed device category.
func (d DeviceConfig) Category() (renogymodbus.DeviceCategory, error) {
	return renogymodbus.ParseDeviceCategory(d.Type)
}

// PollInterval returns the effective poll interval for the device,
// falling back to the global setting.
func (d DeviceConfig) PollInterval(global PollingConfig) time.Duration {
	seconds := d.PollIntervalSeconds
	if seconds == 0 {
		seconds = global.IntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// SafeID returns a stable identifier built from the device name and the MAC
// tail, usable in MQTT topics and HA unique ids.
func (d DeviceConfig) SafeID() string {
	name := strings.ToLower(d.Name)
	name = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	mac := strings.NewReplacer(":", "", "-", "").Replace(d.MACAddress)
	if len(mac) >= 6 {
		mac = mac[len(mac)-6:]
	}
	return name + "_" + strings.ToLower(mac)
}

// DisplayName returns the alias when set, the name otherwise.
func (d DeviceConfig) DisplayName() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// Validate checks the whole configuration at startup. Errors here are fatal.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.New("no devices configured")
	}
	if _, err := CheckMQTTTopic(c.MQTT.BaseTopic); err != nil {
		return err
	}

	interval := time.Duration(c.PollingConfig.IntervalSeconds) * time.Second
	if interval < MinPollInterval || interval > MaxPollInterval {
		return fmt.Errorf("polling interval %s out of range [%s, %s]",
			interval, MinPollInterval, MaxPollInterval)
	}

	adapterMACs := map[string]string{}
	seenIDs := map[string]bool{}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if _, err := d.Category(); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		mac, err := renogymodbus.NormalizeMAC(d.MACAddress)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		d.MACAddress = mac
		if d.DeviceID == 0 {
			d.DeviceID = DefaultDeviceID
		}
		if d.Adapter == "" {
			d.Adapter = DefaultAdapterKey
		}
		if d.PollIntervalSeconds != 0 {
			di := time.Duration(d.PollIntervalSeconds) * time.Second
			if di < MinPollInterval || di > MaxPollInterval {
				return fmt.Errorf("device %s: poll interval %s out of range [%s, %s]",
					d.Name, di, MinPollInterval, MaxPollInterval)
			}
		}
		// one adapter key means one BT module, so one MAC
		if prev, ok := adapterMACs[d.Adapter]; ok && prev != mac {
			return fmt.Errorf("adapter %s used with different MAC addresses (%s, %s)",
				d.Adapter, prev, mac)
		}
		adapterMACs[d.Adapter] = mac

		id := d.SafeID()
		if seenIDs[id] {
			return fmt.Errorf("duplicate device id %s", id)
		}
		seenIDs[id] = true
	}

	for field, limit := range c.Validation {
		if len(limit) != 3 {
			return fmt.Errorf("validation limit for %s must be [min, max, max_delta]", field)
		}
		if limit[0] > limit[1] {
			return fmt.Errorf("validation limit for %s: min > max", field)
		}
	}
	return nil
}

// AdapterKeys returns the distinct adapter keys with their MAC addresses.
func (c *Config) AdapterKeys() map[string]string {
	keys := map[string]string{}
	for _, d := range c.Devices {
		keys[d.Adapter] = d.MACAddress
	}
	return keys
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
