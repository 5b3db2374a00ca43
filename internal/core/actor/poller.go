package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Anto79-ops/renogy-ble/internal/config"
	"github.com/Anto79-ops/renogy-ble/internal/core/domain"
	"github.com/Anto79-ops/renogy-ble/internal/core/events"
	"github.com/Anto79-ops/renogy-ble/internal/core/service"
	. "github.com/Anto79-ops/renogy-ble/internal/util/actorutil"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	// a frame-level failure on one block is retried this many times before
	// the block is skipped for the cycle
	maxBlockRetries = 2

	// the device is marked offline after this many poll cycles in a row
	// without a single decoded block
	offlineAfterFailures = 3

	// failed cycles stretch the poll interval up to interval * this cap
	maxBackoffMultiplier = 8

	blockReadTimeout = 15 * time.Second
)

// DevicePollerActor drives the poll cycle of one configured device: it walks
// the category's register blocks through the shared adapter actor, merges and
// validates the decoded fields and publishes sensor updates on the event
// stream.
type DevicePollerActor struct {
	device       config.DeviceConfig
	deviceID     string
	interval     time.Duration
	adapterActor *actor.PID
	eventStream  *eventstream.EventStream
	validator    *service.DataValidator
	category     renogymodbus.DeviceCategory
	blocks       []renogymodbus.RegisterBlock

	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler
	logger    *zap.Logger

	blockIndex   int
	blockRetries int
	cycleFields  renogymodbus.Fields
	failedCycles uint
	online       bool
	announced    bool
}

type pollTick struct {
}

func NewDevicePollerActor(cfg *config.Config, device config.DeviceConfig, adapterActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) (*DevicePollerActor, error) {
	category, err := device.Category()
	if err != nil {
		return nil, err
	}
	deviceID := device.SafeID()
	act := &DevicePollerActor{
		device:       device,
		deviceID:     deviceID,
		interval:     device.PollInterval(cfg.PollingConfig),
		adapterActor: adapterActor,
		eventStream:  eventStream,
		validator:    service.NewDataValidator(deviceID, validationLimits(cfg, category), logger),
		category:     category,
		blocks:       renogymodbus.Blocks(category),
		behavior:     actor.NewBehavior(),
		stash:        &Stash{},
		logger:       ActorLogger(fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER, deviceID), logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act, nil
}

// validationLimits merges configured overrides into the category defaults.
// Overrides are [min, max, max_delta] triples keyed by field name.
func validationLimits(cfg *config.Config, category renogymodbus.DeviceCategory) map[string]service.FieldLimit {
	limits := service.DefaultLimits(category)
	for field, triple := range cfg.Validation {
		if len(triple) != 3 {
			continue
		}
		limits[field] = service.FieldLimit{
			Min:      triple[0],
			Max:      triple[1],
			MaxDelta: triple[2],
		}
	}
	return limits
}

func (state *DevicePollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DevicePollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@starting started", zap.String("device", state.deviceID))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), pollTick{})
		state.behavior.Become(state.DefaultReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("poller@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DevicePollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER, state.deviceID),
			Healthy: true,
			State:   state.healthState(),
		})
	case pollTick:
		state.logger.Debug("poller@default tick", zap.String("device", state.deviceID))
		state.blockIndex = 0
		state.blockRetries = 0
		state.cycleFields = renogymodbus.Fields{}
		state.requestBlock(ctx)
		state.behavior.BecomeStacked(state.WaitingBlockReceive)
	case *actor.Stopping:
		state.publishOfflineOnStop()
	default:
		state.logger.Debug("poller@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DevicePollerActor) WaitingBlockReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReadRegistersResponse:
		state.handleBlockResponse(ctx, msg)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER, state.deviceID),
			Healthy: true,
			State:   "polling",
		})
	case *actor.Stopping:
		state.publishOfflineOnStop()
	default:
		state.logger.Debug("poller@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DevicePollerActor) handleBlockResponse(ctx actor.Context, msg domain.ReadRegistersResponse) {
	block := state.blocks[state.blockIndex]

	if msg.HasResponseError() {
		err := msg.GetResponseError()

		// a dead link aborts the whole cycle
		if errors.Is(err, renogymodbus.ErrConnectionLost) || errors.Is(err, renogymodbus.ErrResponseTimeout) {
			state.logger.Warn("poller@waiting cycle aborted", zap.String("device", state.deviceID),
				zap.String("block", block.Name), zap.Error(err))
			state.finishCycle(ctx, true)
			return
		}

		// frame-level noise gets a bounded retry on the same block
		var frameErr *renogymodbus.FrameError
		if errors.As(err, &frameErr) && frameErr.Kind != renogymodbus.FrameException &&
			state.blockRetries < maxBlockRetries {
			state.blockRetries++
			state.logger.Debug("poller@waiting block retry", zap.String("device", state.deviceID),
				zap.String("block", block.Name), zap.Int("attempt", state.blockRetries))
			state.requestBlock(ctx)
			return
		}

		// exception or exhausted retries: skip the block for this cycle
		state.logger.Warn("poller@waiting block skipped", zap.String("device", state.deviceID),
			zap.String("block", block.Name), zap.Error(err))
		state.nextBlock(ctx)
		return
	}

	fields, err := renogymodbus.Decode(state.category, block.Register, msg.Payload)
	if err != nil {
		state.logger.Warn("poller@waiting block decode failed", zap.String("device", state.deviceID),
			zap.String("block", block.Name), zap.Error(err))
		state.nextBlock(ctx)
		return
	}
	for k, v := range fields {
		state.cycleFields[k] = v
	}
	state.nextBlock(ctx)
}

func (state *DevicePollerActor) nextBlock(ctx actor.Context) {
	state.blockIndex++
	state.blockRetries = 0
	if state.blockIndex < len(state.blocks) {
		state.requestBlock(ctx)
		return
	}
	state.finishCycle(ctx, len(state.cycleFields) == 0)
}

func (state *DevicePollerActor) requestBlock(ctx actor.Context) {
	block := state.blocks[state.blockIndex]
	req := domain.ReadRegistersRequest{
		DeviceID: state.device.DeviceID,
		Register: block.Register,
		Words:    block.Words,
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.adapterActor, req, blockReadTimeout), func(err error) any {
		return domain.ReadRegistersResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			Register:           block.Register,
		}
	})
}

func (state *DevicePollerActor) finishCycle(ctx actor.Context, failed bool) {
	if failed {
		state.failedCycles++
		state.logger.Warn("poller@cycle failed", zap.String("device", state.deviceID),
			zap.Uint("consecutive", state.failedCycles))
		if state.failedCycles >= offlineAfterFailures && (state.online || !state.announced) {
			state.online = false
			state.announced = true
			state.eventStream.Publish(events.ToAvailabilityEvent(state.deviceID, false))
		}
	} else {
		state.failedCycles = 0
		if !state.online || !state.announced {
			state.online = true
			state.announced = true
			state.eventStream.Publish(events.ToAvailabilityEvent(state.deviceID, true))
		}

		validated, rejections := state.validator.Validate(state.cycleFields)
		for i := range rejections {
			state.logger.Warn("poller@cycle field rejected", zap.String("device", state.deviceID),
				zap.String("field", rejections[i].Field), zap.String("reason", rejections[i].Reason))
		}

		updates := events.ToSensorUpdateEvents(domain.Reading{
			DeviceID: state.deviceID,
			Category: state.category,
			Captured: time.Now(),
			Fields:   validated,
		})
		for _, ev := range updates {
			state.eventStream.Publish(ev)
		}
		state.eventStream.Publish(events.ToValidationStatsEvent(state.deviceID, state.validator.Stats()))
	}

	state.scheduler.SendOnce(state.nextInterval(), ctx.Self(), pollTick{})
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

// nextInterval stretches the poll interval while cycles keep failing so a
// dead device does not hog the shared adapter.
func (state *DevicePollerActor) nextInterval() time.Duration {
	multiplier := uint(1)
	for i := uint(0); i < state.failedCycles && multiplier < maxBackoffMultiplier; i++ {
		multiplier *= 2
	}
	if multiplier > maxBackoffMultiplier {
		multiplier = maxBackoffMultiplier
	}
	return state.interval * time.Duration(multiplier)
}

// publishOfflineOnStop lets the broker show the device unavailable while the
// bridge is down instead of serving the last retained online state.
func (state *DevicePollerActor) publishOfflineOnStop() {
	if state.online {
		state.online = false
		state.eventStream.Publish(events.ToAvailabilityEvent(state.deviceID, false))
	}
}

func (state *DevicePollerActor) healthState() string {
	if state.online {
		return "online"
	}
	return "offline"
}
