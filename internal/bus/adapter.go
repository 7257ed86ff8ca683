package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wrenfield/loreshare/internal/apperr"
)

// Adapter is one participant's endpoint on the bus. It tags outgoing
// envelopes with the participant id, refuses payloads over the ceiling
// before they touch the fabric, drops incoming envelopes the participant
// published itself, and routes the rest to per-channel handlers and
// listeners.
type Adapter struct {
	id     string
	bus    Bus
	logger *slog.Logger

	bytesSent atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	handlers  map[string]func(Envelope)
	listeners map[string][]chan Envelope
}

// NewAdapter creates an adapter for the participant with the given id.
// Run must be started for incoming traffic to flow.
func NewAdapter(id string, b Bus, logger *slog.Logger) *Adapter {
	return &Adapter{
		id:        id,
		bus:       b,
		logger:    logger,
		ready:     make(chan struct{}),
		handlers:  make(map[string]func(Envelope)),
		listeners: make(map[string][]chan Envelope),
	}
}

// Ready is closed once Run has attached to the bus. Anything that expects
// an answer should wait for it first, or the answer can be broadcast
// before this participant is listening.
func (a *Adapter) Ready() <-chan struct{} { return a.ready }

// ID returns the participant id outgoing envelopes are stamped with.
func (a *Adapter) ID() string { return a.id }

// BytesSent returns the number of payload bytes accepted onto the bus so
// far. Rejected payloads contribute nothing.
func (a *Adapter) BytesSent() int64 { return a.bytesSent.Load() }

// Publish serializes payload and broadcasts it on channel. Payloads whose
// serialized form exceeds MaxPayloadBytes are rejected with
// apperr.ErrPayloadTooLarge without touching the bus.
func (a *Adapter) Publish(channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	if len(raw) > MaxPayloadBytes {
		return fmt.Errorf("bus: %s payload is %d bytes: %w", channel, len(raw), apperr.ErrPayloadTooLarge)
	}
	if err := a.bus.Publish(Envelope{Channel: channel, SenderID: a.id, Payload: raw}); err != nil {
		return fmt.Errorf("bus: publish %s: %w", channel, err)
	}
	a.bytesSent.Add(int64(len(raw)))
	return nil
}

// Handle registers fn as the handler for channel, replacing any previous
// one. Handlers run on the adapter's receive goroutine, so long work
// belongs in a goroutine the handler starts itself.
func (a *Adapter) Handle(channel string, fn func(Envelope)) {
	a.mu.Lock()
	a.handlers[channel] = fn
	a.mu.Unlock()
}

// Unhandle removes the handler for channel. Envelopes arriving afterwards
// are dropped unless a listener is attached.
func (a *Adapter) Unhandle(channel string) {
	a.mu.Lock()
	delete(a.handlers, channel)
	a.mu.Unlock()
}

// Subscription is a temporary tap on one channel, used for awaiting
// responses. Close it as soon as the wait is over; an abandoned
// subscription keeps receiving until the adapter stops.
type Subscription struct {
	C chan Envelope

	a       *Adapter
	channel string
	once    sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.a.dropListener(s.channel, s.C) })
}

// Listen opens a temporary subscription on channel. Envelopes are
// delivered with the same drop-on-full rule the fabric uses.
func (a *Adapter) Listen(channel string) *Subscription {
	s := &Subscription{C: make(chan Envelope, 16), a: a, channel: channel}
	a.mu.Lock()
	a.listeners[channel] = append(a.listeners[channel], s.C)
	a.mu.Unlock()
	return s
}

func (a *Adapter) dropListener(channel string, ch chan Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.listeners[channel]
	for i, c := range list {
		if c == ch {
			a.listeners[channel] = append(list[:i], list[i+1:]...)
			close(ch)
			return
		}
	}
}

// Run receives from the bus until ctx is cancelled or the bus closes. Own
// envelopes are dropped here, so handlers never see the participant's own
// broadcasts regardless of whether the fabric echoes them.
func (a *Adapter) Run(ctx context.Context) error {
	ch := a.bus.Subscribe()
	defer a.bus.Unsubscribe(ch)
	a.readyOnce.Do(func() { close(a.ready) })

	a.logger.Debug("bus: adapter receiving", slog.String("participant", a.id))

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if env.SenderID == a.id {
				continue
			}
			a.dispatch(env)
		}
	}
}

func (a *Adapter) dispatch(env Envelope) {
	a.mu.Lock()
	for _, ch := range a.listeners[env.Channel] {
		select {
		case ch <- env:
		default:
			// Listener buffer full; the waiter has fallen behind and the
			// envelope is lost to it.
		}
	}
	fn := a.handlers[env.Channel]
	a.mu.Unlock()

	if fn != nil {
		fn(env)
	}
}
