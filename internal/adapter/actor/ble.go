package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/util/actorutil"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	adapterConnectTimeout   = 45 * time.Second
	adapterReadTimeout      = 10 * time.Second
	reconnectInitialBackoff = 5 * time.Second
	reconnectMaxBackoff     = 2 * time.Minute
)

// AdapterActor owns one BLE hub connection and serializes all register
// reads through it. Pollers for devices behind the same hub share one
// instance of this actor.
type AdapterActor struct {
	adapterKey string
	hub        *renogymodbus.HubConn
	behavior   actor.Behavior
	stash      *actorutil.Stash
	scheduler  *scheduler.TimerScheduler
	backoff    time.Duration
	logger     *zap.Logger
}

type connectResult struct {
	Error error
}

type reconnectTick struct {
}

type readResult struct {
	message any
	replyTo *actor.PID
	lost    bool
}

func NewAdapterActor(adapterKey string, hub *renogymodbus.HubConn, logger *zap.Logger) *AdapterActor {
	act := &AdapterActor{
		adapterKey: adapterKey,
		hub:        hub,
		behavior:   actor.NewBehavior(),
		stash:      &actorutil.Stash{},
		backoff:    reconnectInitialBackoff,
		logger:     actorutil.ActorLogger(fmt.Sprintf("%s_%s", domain.ACTOR_ID_ADAPTER, adapterKey), logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *AdapterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *AdapterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("adapter@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.startConnect(ctx)
	case connectResult:
		if msg.Error != nil {
			state.logger.Error("adapter@starting connect failed", zap.Error(msg.Error))
			state.beginReconnect(ctx)
			return
		}
		state.logger.Info("adapter@starting connected")
		state.backoff = reconnectInitialBackoff
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.hub.Close()
	default:
		state.logger.Debug("adapter@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AdapterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("adapter@default ActorHealthRequest")
		// the hub can notice a loss before the next read surfaces it
		connected := state.hub.Connected()
		healthState := "idle"
		if !connected {
			healthState = "link_lost"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.healthId(),
			Healthy: connected,
			State:   healthState,
		})
	case domain.ReadRegistersRequest:
		state.logger.Debug("adapter@default ReadRegistersRequest",
			zap.Uint8("device", msg.DeviceID), zap.Uint16("register", msg.Register))
		state.startRead(ctx, msg)
		state.behavior.BecomeStacked(state.WaitingRead)
	case *actor.Restarting, *actor.Stopping:
		state.hub.Close()
	default:
		state.logger.Debug("adapter@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AdapterActor) WaitingRead(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case readResult:
		state.logger.Debug("adapter@waiting readResult")
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		if msg.lost {
			state.logger.Warn("adapter@waiting connection lost")
			state.beginReconnect(ctx)
			return
		}
		state.stash.UnstashOldest(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.hub.Close()
	default:
		state.logger.Debug("adapter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// ReconnectingReceive answers reads immediately with an error so pollers
// can skip the cycle instead of queueing behind a dead link.
func (state *AdapterActor) ReconnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.healthId(),
			Healthy: false,
			State:   "reconnecting",
		})
	case domain.ReadRegistersRequest:
		state.logger.Debug("adapter@reconnecting rejecting read",
			zap.Uint8("device", msg.DeviceID), zap.Uint16("register", msg.Register))
		actorutil.ForRequest(msg).Respond(ctx, domain.ReadRegistersResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: renogymodbus.ErrConnectionLost,
			},
			Register: msg.Register,
		})
	case reconnectTick:
		state.logger.Info("adapter@reconnecting attempting connect")
		state.startConnect(ctx)
	case connectResult:
		if msg.Error != nil {
			state.logger.Error("adapter@reconnecting connect failed", zap.Error(msg.Error),
				zap.Duration("next_attempt", state.backoff))
			state.scheduleReconnect(ctx)
			return
		}
		state.logger.Info("adapter@reconnecting connected")
		state.backoff = reconnectInitialBackoff
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.hub.Close()
	default:
		state.logger.Debug("adapter@reconnecting recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AdapterActor) startConnect(ctx actor.Context) {
	hub := state.hub
	actorutil.NewBackgroundTask(ctx, func() (*connectResult, error) {
		cctx, cancel := context.WithTimeout(context.Background(), adapterConnectTimeout)
		defer cancel()
		return &connectResult{Error: hub.Connect(cctx)}, nil
	}).Recover(func(err error) connectResult {
		return connectResult{Error: err}
	}).PipeTo(ctx.Self())
}

func (state *AdapterActor) startRead(ctx actor.Context, msg domain.ReadRegistersRequest) {
	hub := state.hub
	sender := actorutil.ForRequest(msg).ReplyTo(ctx)
	actorutil.NewBackgroundTask(ctx, func() (*readResult, error) {
		rctx, cancel := context.WithTimeout(context.Background(), adapterReadTimeout)
		defer cancel()
		payload, err := hub.ReadRegisters(rctx, msg.DeviceID, msg.Register, msg.Words)
		return &readResult{
			message: domain.ReadRegistersResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Register:           msg.Register,
				Payload:            payload,
			},
			replyTo: sender,
			lost:    errors.Is(err, renogymodbus.ErrConnectionLost),
		}, nil
	}).Recover(func(err error) readResult {
		return readResult{
			message: domain.ReadRegistersResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Register:           msg.Register,
			},
			replyTo: sender,
		}
	}).PipeTo(ctx.Self())
}

func (state *AdapterActor) beginReconnect(ctx actor.Context) {
	state.behavior.Become(state.ReconnectingReceive)
	state.stash.UnstashAll(ctx)
	state.scheduleReconnect(ctx)
}

func (state *AdapterActor) scheduleReconnect(ctx actor.Context) {
	state.scheduler.SendOnce(state.backoff, ctx.Self(), reconnectTick{})
	state.backoff *= 2
	if state.backoff > reconnectMaxBackoff {
		state.backoff = reconnectMaxBackoff
	}
}

func (state *AdapterActor) healthId() string {
	return fmt.Sprintf("%s_%s", domain.ACTOR_ID_ADAPTER, state.adapterKey)
}
