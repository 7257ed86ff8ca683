// Package rpc layers request/response onto the broadcast bus. A request
// is an ordinary broadcast carrying the requester's id; the answer comes
// back as another broadcast on the paired response channel, and the
// requester picks out the envelope whose payload names it. Nothing
// confirms delivery, so every wait is bounded by a timeout.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/wire"
)

// Coordinator issues requests and serves responses through one adapter.
type Coordinator struct {
	adapter *bus.Adapter
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a coordinator. timeout bounds every Request wait.
func New(adapter *bus.Adapter, timeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{adapter: adapter, timeout: timeout, logger: logger}
}

// Request broadcasts req on channel and waits for the response addressed
// to this participant, decoding it into resp. The response subscription is
// opened before the request goes out, so an answer can never slip past in
// the gap. Returns apperr.ErrTimeout when nobody answers in time; the
// subscription is released on every path.
func (c *Coordinator) Request(ctx context.Context, channel string, req, resp any) error {
	respChannel, ok := wire.ResponseChannel(channel)
	if !ok {
		return fmt.Errorf("rpc: %s takes no response", channel)
	}

	sub := c.adapter.Listen(respChannel)
	defer sub.Close()

	if err := c.adapter.Publish(channel, req); err != nil {
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rpc: %s: %w", channel, ctx.Err())

		case <-timer.C:
			return fmt.Errorf("rpc: %s: %w", channel, apperr.ErrTimeout)

		case env, chOpen := <-sub.C:
			if !chOpen {
				return fmt.Errorf("rpc: %s: %w", channel, apperr.ErrUnavailable)
			}
			var probe struct {
				RequesterID string `json:"requester_id"`
			}
			if err := json.Unmarshal(env.Payload, &probe); err != nil || probe.RequesterID != c.adapter.ID() {
				continue
			}
			if err := wire.Decode(env, resp); err != nil {
				c.logger.Warn("rpc: bad response payload",
					slog.String("channel", respChannel),
					slog.String("from", env.SenderID),
					slog.String("error", err.Error()))
				continue
			}
			return nil
		}
	}
}

// Serve answers requests arriving on channel until the returned stop
// function is called. handle runs on its own goroutine per request;
// returning an error (or a nil response) drops the request, leaving the
// requester to its timeout.
func (c *Coordinator) Serve(channel string, handle func(env bus.Envelope) (any, error)) (stop func()) {
	respChannel, ok := wire.ResponseChannel(channel)
	if !ok {
		panic(fmt.Sprintf("rpc: %s takes no response", channel))
	}

	c.adapter.Handle(channel, func(env bus.Envelope) {
		go func() {
			resp, err := handle(env)
			if err != nil {
				c.logger.Warn("rpc: handler failed",
					slog.String("channel", channel),
					slog.String("from", env.SenderID),
					slog.String("error", err.Error()))
				return
			}
			if resp == nil {
				return
			}
			if err := c.adapter.Publish(respChannel, resp); err != nil {
				c.logger.Warn("rpc: response not published",
					slog.String("channel", respChannel),
					slog.String("error", err.Error()))
			}
		}()
	})

	return func() { c.adapter.Unhandle(channel) }
}
