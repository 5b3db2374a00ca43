package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Anto79-ops/renogy-ble/internal/config"
	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/core/events"
	"github.com/Anto79-ops/renogy-ble/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor waits for the MQTT actor to come up, then announces every
// configured device and its sensors to Home Assistant and stops caring.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// check MQTT actor healthy before announcing
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT actor is not healthy"))
		}

		sensors, binarySensors, err := state.buildDiscovery()
		if err != nil {
			panic(err)
		}
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:       sensors,
			BinarySensors: binarySensors,
		})
		state.logger.Info("hadiscovery announced devices",
			zap.Int("sensors", len(sensors)), zap.Int("binary_sensors", len(binarySensors)))
		state.behavior.Become(state.Done)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) buildDiscovery() ([]domain.GenericSensor, []domain.GenericBinarySensor, error) {
	var sensors []domain.GenericSensor
	var binarySensors []domain.GenericBinarySensor

	bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
	binarySensors = append(binarySensors, events.BridgeSensors(bridgeDevice)...)

	for _, devCfg := range state.config.Devices {
		category, err := devCfg.Category()
		if err != nil {
			return nil, nil, err
		}
		device := events.MonitoredDevice(devCfg.SafeID(), devCfg.DisplayName(), category, bridgeDevice)
		sensors = append(sensors, events.DeviceSensors(device, category)...)
		binarySensors = append(binarySensors, events.DeviceBinarySensors(device, category)...)
	}
	return sensors, binarySensors, nil
}
