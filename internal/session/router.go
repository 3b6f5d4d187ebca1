package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Router classifies inbound frames and dispatches data frames to their
// registered handlers. Control frames update liveness bookkeeping in the
// session; subscribe nacks are surfaced through notify. Handler failures
// are contained here and never affect the connection.
type Router struct {
	registry *Registry
	notify   func(err error)
	log      zerolog.Logger
}

func NewRouter(registry *Registry, notify func(error), log zerolog.Logger) *Router {
	return &Router{registry: registry, notify: notify, log: log}
}

// Dispatch parses one raw frame and routes it. Malformed frames are logged
// and dropped.
func (r *Router) Dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.log.Warn().Err(err).Str("frame", string(raw)).Msg("Dropping malformed frame")
		return
	}
	if env.Topic != "" {
		r.dispatchData(env)
		return
	}
	r.handleControl(env)
}

func (r *Router) dispatchData(env envelope) {
	handler, ok := r.registry.Lookup(env.Topic)
	if !ok {
		// Expected during unsubscribe races; the venue may still be
		// flushing frames for a topic we no longer want.
		r.log.Debug().Str("topic", env.Topic).Msg("Dropping frame for inactive topic")
		return
	}
	msg := Message{
		Topic:      env.Topic,
		Data:       env.Data,
		ServerTime: time.UnixMilli(env.TS),
	}
	if err := r.invoke(handler, msg); err != nil {
		r.log.Error().Err(err).Str("topic", env.Topic).Int64("ts", env.TS).
			Msg("Handler failed")
	}
}

// invoke runs a handler with panic containment. One failing handler must
// not kill the connection or starve other handlers.
func (r *Router) invoke(handler Handler, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(msg)
}

func (r *Router) handleControl(env envelope) {
	switch env.Op {
	case "pong", "ping":
		r.log.Debug().Str("req_id", env.ReqID).Msg("Heartbeat ack received")
	case "subscribe":
		if env.Success != nil && !*env.Success {
			topic, ok := topicFromReqID(env.ReqID)
			if !ok {
				topic = "unknown"
			}
			r.log.Warn().Str("topic", topic).Str("reason", env.RetMsg).
				Msg("Subscription rejected by venue")
			if r.notify != nil {
				r.notify(&SubscriptionRejected{Topic: topic, Reason: env.RetMsg})
			}
			return
		}
		r.log.Debug().Str("req_id", env.ReqID).Msg("Subscription confirmed")
	case "unsubscribe":
		r.log.Debug().Str("req_id", env.ReqID).Msg("Unsubscribe confirmed")
	case "auth":
		if env.Success != nil && !*env.Success {
			r.log.Error().Str("reason", env.RetMsg).Msg("Authentication rejected")
			return
		}
		r.log.Debug().Str("conn_id", env.ConnID).Msg("Authenticated")
	default:
		r.log.Debug().Str("op", env.Op).Msg("Unhandled control frame")
	}
}
