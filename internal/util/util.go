package util

import (
	"github.com/Anto79-ops/renogy-ble/internal/config"

	"go.uber.org/zap/zapcore"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zapcore.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "renogy",
			HADiscoveryTopic: "homeassistant",
		},
		Devices: []config.DeviceConfig{
			{
				Name:       "Rover 40A",
				MACAddress: "AA:BB:CC:DD:EE:FF",
				Type:       "controller",
				DeviceID:   255,
				Adapter:    "bt1",
			},
			{
				Name:       "House battery",
				MACAddress: "AA:BB:CC:DD:EE:FF",
				Type:       "battery",
				DeviceID:   48,
				Adapter:    "bt1",
			},
		},
		PollingConfig: config.PollingConfig{
			IntervalSeconds: 60,
		},
		Port: 8080,
	}
}
