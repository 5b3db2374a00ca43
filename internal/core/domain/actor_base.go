package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

type ActorRef actor.PID

// ActorRequestMixIn is embedded by request messages that expect a reply to a
// PID other than the sender.
type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

// ActorResponseMixIn carries the error channel of a response message.
type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}
