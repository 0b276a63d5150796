package mailstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailstore/events"
)

// EventNameMailstore is the bus event carrying every committed mailbox event.
// Subscribers receive an events.Envelope and decode it with a CodecRegistry.
const EventNameMailstore = "mailstore.event"

// busSeq numbers the buses of this process; bus names must be unique.
var busSeq atomic.Int64

// busTransport picks the transport for the event bus: an explicit one, then
// Redis Streams, then noop.
func (s *service) busTransport() (transport.Transport, string, error) {
	switch {
	case s.opts.bus.transport != nil:
		return s.opts.bus.transport, "custom", nil
	case s.opts.bus.redisClient != nil:
		t, err := eventredis.New(s.opts.bus.redisClient)
		if err != nil {
			return nil, "", fmt.Errorf("create redis transport: %w", err)
		}
		return t, "redis", nil
	default:
		return noop.New(), "noop", nil
	}
}

// initEventBus creates the service's own bus and envelope event, so several
// services can share a process.
func (s *service) initEventBus(ctx context.Context) error {
	t, kind, err := s.busTransport()
	if err != nil {
		return err
	}
	busName := fmt.Sprintf("%s-%d", s.opts.name, busSeq.Add(1))
	bus, err := event.NewBus(busName, event.WithTransport(t))
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.logger.Debug("event bus ready", "bus", busName, "transport", kind)

	ev := event.New[events.Envelope](busName + "." + EventNameMailstore)
	if err := event.Register(ctx, bus, ev); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register %s: %w", EventNameMailstore, err)
	}

	s.eventBus = bus
	s.busEvent = ev
	return nil
}

// BusEvent returns the envelope event bound to this service's bus.
// It is nil until Connect succeeds.
//
// Subscribe to committed changes from another process:
//
//	svc.BusEvent().Subscribe(ctx, handler)
func (s *service) BusEvent() event.Event[events.Envelope] {
	return s.busEvent
}

// publish encodes ev and publishes it on the bus. Failures never affect the
// committed mutation; they are reported to the publish failure handler.
func (s *service) publish(ctx context.Context, ev events.Event) {
	if s.busEvent == nil {
		return
	}
	env, err := s.codecs.Encode(ev)
	if err != nil {
		s.opts.safeEventPublishFailure(string(ev.Type()), err)
		return
	}
	if err := s.busEvent.Publish(ctx, env); err != nil {
		s.opts.safeEventPublishFailure(string(ev.Type()), err)
	}
}
