package actor

import (
	"testing"
	"time"

	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/util/actorutil"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAdapterTestSystem(t *testing.T, transport renogymodbus.Transport) (*actor.ActorSystem, *actor.PID) {
	t.Helper()

	logger := zap.Must(zap.NewDevelopment())
	hub := renogymodbus.NewHubConn(transport, logger,
		renogymodbus.WithRequestGap(0), renogymodbus.WithResponseTimeout(500*time.Millisecond))

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewAdapterActor("bt1", hub, logger) })
	pid := as.Root.Spawn(props)
	return as, pid
}

func batteryInfoWords() []uint16 {
	// 1.5 A, 13.2 V, 50/100 Ah
	return []uint16{0x0096, 0x0084, 0x0000, 0xC350, 0x0001, 0x86A0}
}

func TestAdapterActorReadRegisters(t *testing.T) {

	assert := assert.New(t)

	transport := renogymodbus.NewTestTransport(map[uint16][]uint16{
		5042: batteryInfoWords(),
	})
	as, pid := newAdapterTestSystem(t, transport)
	defer as.Shutdown()

	msg := domain.ReadRegistersRequest{DeviceID: 48, Register: 5042, Words: 6}
	result, err := as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ReadRegistersResponse)
	require.NoError(t, resp.ResponseError)

	fields, err := renogymodbus.Decode(renogymodbus.CategoryBattery, 5042, resp.Payload)
	require.NoError(t, err)
	assert.Equal(50.0, fields["soc"])

	as.Root.Stop(pid)
}

func TestAdapterActorSerializesReads(t *testing.T) {

	transport := renogymodbus.NewTestTransport(map[uint16][]uint16{
		5042: batteryInfoWords(),
	})
	transport.ResponseDelay = 20 * time.Millisecond
	as, pid := newAdapterTestSystem(t, transport)
	defer as.Shutdown()

	msg := domain.ReadRegistersRequest{DeviceID: 48, Register: 5042, Words: 6}
	futures := make([]*actor.Future, 0, 5)
	for i := 0; i < 5; i++ {
		futures = append(futures, as.Root.RequestFuture(pid, msg, 10*time.Second))
	}
	for _, f := range futures {
		result, err := f.Result()
		require.NoError(t, err)
		resp := result.(domain.ReadRegistersResponse)
		require.NoError(t, resp.ResponseError)
	}

	assert.Equal(t, 1, transport.MaxInFlight())

	as.Root.Stop(pid)
}

func TestAdapterActorExceptionResponse(t *testing.T) {

	transport := renogymodbus.NewTestTransport(map[uint16][]uint16{
		5042: batteryInfoWords(),
	})
	as, pid := newAdapterTestSystem(t, transport)
	defer as.Shutdown()

	// register 60000 is not scripted, transport answers with an exception
	msg := domain.ReadRegistersRequest{DeviceID: 48, Register: 60000, Words: 21}
	result, err := as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ReadRegistersResponse)
	require.Error(t, resp.ResponseError)

	var frameErr *renogymodbus.FrameError
	require.ErrorAs(t, resp.ResponseError, &frameErr)
	assert.Equal(t, renogymodbus.FrameException, frameErr.Kind)

	as.Root.Stop(pid)
}

func TestAdapterActorRejectsReadsWhileReconnecting(t *testing.T) {

	transport := renogymodbus.NewTestTransport(map[uint16][]uint16{
		5042: batteryInfoWords(),
	})
	as, pid := newAdapterTestSystem(t, transport)
	defer as.Shutdown()

	msg := domain.ReadRegistersRequest{DeviceID: 48, Register: 5042, Words: 6}

	// warm up, then drop the link
	_, err := as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	transport.Drop()

	// first read after the drop observes the loss
	result, err := as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ReadRegistersResponse)
	require.ErrorIs(t, resp.ResponseError, renogymodbus.ErrConnectionLost)

	// while reconnecting, reads fail fast instead of queueing
	result, err = as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp = result.(domain.ReadRegistersResponse)
	require.ErrorIs(t, resp.ResponseError, renogymodbus.ErrConnectionLost)

	// the scheduled reconnect restores service
	assert.Eventually(t, func() bool {
		result, err := as.Root.RequestFuture(pid, msg, 5*time.Second).Result()
		if err != nil {
			return false
		}
		resp := result.(domain.ReadRegistersResponse)
		return resp.ResponseError == nil
	}, 30*time.Second, 1*time.Second)

	as.Root.Stop(pid)
}

func TestAdapterActorHealth(t *testing.T) {

	transport := renogymodbus.NewTestTransport(map[uint16][]uint16{
		5042: batteryInfoWords(),
	})
	as, pid := newAdapterTestSystem(t, transport)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.Equal(t, "adapter_bt1", resp.Id)
	assert.True(t, resp.Healthy)
	assert.Equal(t, "idle", resp.State)

	as.Root.Stop(pid)
}
