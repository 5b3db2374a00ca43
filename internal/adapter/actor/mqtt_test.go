package actor

import (
	"testing"
	"time"

	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/util"
	"github.com/Anto79-ops/renogy-ble/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActorHealth(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	context.Stop(pid)

	as.Shutdown()
}

func TestEvent2MQTTMessage(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	state := NewTestMQTTActor(&cfg, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return state })
	pid := as.Root.Spawn(props)
	time.Sleep(500 * time.Millisecond)

	msg := state.event2MQTTMessage(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "rover_abc123_battery_voltage"},
		Value:                  13.25,
		Decimals:               1,
	})
	require.NotNil(t, msg)
	assert.Equal("renogy/sensor/rover_abc123_battery_voltage/state", msg.topic)
	assert.Equal("13.2", msg.message)
	assert.False(msg.retain)

	msg = state.event2MQTTMessage(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "rover_abc123_charging_status"},
		Value:                  "mppt",
	})
	require.NotNil(t, msg)
	assert.Equal("renogy/sensor/rover_abc123_charging_status/state", msg.topic)
	assert.Equal("mppt", msg.message)

	msg = state.event2MQTTMessage(domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "batt_f00d42_heater_on"},
		Value:                  true,
	})
	require.NotNil(t, msg)
	assert.Equal("renogy/binary_sensor/batt_f00d42_heater_on/state", msg.topic)
	assert.Equal("on", msg.message)

	msg = state.event2MQTTMessage(domain.DeviceAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "rover_abc123"},
		Online:                 false,
	})
	require.NotNil(t, msg)
	assert.Equal("renogy/rover_abc123/availability", msg.topic)
	assert.Equal("offline", msg.message)
	assert.True(msg.retain)

	msg = state.event2MQTTMessage(domain.BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "bridge"},
		Value:                  true,
	})
	require.NotNil(t, msg)
	assert.Equal("renogy/bridge/state", msg.topic)
	assert.Equal("online", msg.message)

	as.Root.Stop(pid)
}
