package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/Anto79-ops/renogy-ble/internal/adapter/actor"
	"github.com/Anto79-ops/renogy-ble/internal/config"
	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	. "github.com/Anto79-ops/renogy-ble/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// AdapterActorProvider builds the actor owning one BLE adapter link. Called
// once per distinct adapter key in the device list.
type AdapterActorProvider func(adapterKey string) (*adactor.AdapterActor, error)

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck   healthCheckResult
	eventStream          *eventstream.EventStream
	mqttActor            *actor.PID
	adapterActors        map[string]*actor.PID
	pollerActors         map[string]*actor.PID
	adapterActorProvider AdapterActorProvider
	mqttActorProvider    MQTTActorProvider
	logger               *zap.Logger
}

type healthCheckResult struct {
	expected       int
	checksReceived int
	healthy        int
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, adapterActorProvider AdapterActorProvider,
	mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:               config,
		behavior:             actor.NewBehavior(),
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:          &eventstream.EventStream{},
		adapterActors:        map[string]*actor.PID{},
		pollerActors:         map[string]*actor.PID{},
		adapterActorProvider: adapterActorProvider,
		mqttActorProvider:    mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start one adapter child per BLE adapter key
		for key := range state.config.AdapterKeys() {
			pid, err := state.startAdapterActor(ctx, key)
			if err != nil {
				panic(err)
			}
			state.adapterActors[key] = pid
		}

		// start one poller child per device
		for _, devCfg := range state.config.Devices {
			pid, err := state.startPollerActor(ctx, devCfg)
			if err != nil {
				panic(err)
			}
			state.pollerActors[devCfg.SafeID()] = pid
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{
			expected:  1 + len(state.adapterActors) + len(state.pollerActors),
			respondTo: ctx.Sender(),
		}
		checked := []*actor.PID{state.mqttActor}
		for _, pid := range state.adapterActors {
			checked = append(checked, pid)
		}
		for _, pid := range state.pollerActors {
			checked = append(checked, pid)
		}
		for _, pid := range checked {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case *actor.Terminated:
		// if the MQTT actor gives up for good, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MQTT) {
			state.logger.Error("master@default mqtt terminated")
			panic(errors.New("mqtt terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy++
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startAdapterActor(ctx actor.Context, adapterKey string) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	adapterProps := actor.PropsFromProducer(func() actor.Actor {
		act, err := state.adapterActorProvider(adapterKey)
		if err != nil {
			panic(err)
		}
		return act
	}, actor.WithSupervisor(supervisor))
	adapterActorPID, err := ctx.SpawnNamed(adapterProps, fmt.Sprintf("%s_%s", domain.ACTOR_ID_ADAPTER, adapterKey))
	if err != nil {
		return nil, err
	}

	return adapterActorPID, nil
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context, devCfg config.DeviceConfig) (*actor.PID, error) {

	adapterPID, ok := state.adapterActors[devCfg.Adapter]
	if !ok {
		return nil, fmt.Errorf("device %s references unknown adapter %s", devCfg.SafeID(), devCfg.Adapter)
	}

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		act, err := NewDevicePollerActor(&state.config, devCfg, adapterPID, state.eventStream, state.logger)
		if err != nil {
			panic(err)
		}
		return act
	}, actor.WithSupervisor(supervisor))
	pollerPID, err := ctx.SpawnNamed(pollerProps, fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER, devCfg.SafeID()))
	if err != nil {
		return nil, err
	}

	return pollerPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.healthy == state.expected
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
