package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/wrenfield/loreshare/internal/bus"
)

// Client is the Bus a participant uses when the room spans processes.
// It mirrors the in-process broker's behavior over one websocket: fire
// and forget publishes, drop-on-full subscribers, and no redelivery.
//
// Concurrency model matches the broker: an event loop owns the
// subscriber set, a read pump feeds it envelopes off the socket, and a
// single writer goroutine owns the socket's write side.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	subscribeCh   chan chan bus.Envelope
	unsubscribeCh chan chan bus.Envelope
	publishCh     chan []byte
	inboundCh     chan bus.Envelope

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ bus.Bus = (*Client)(nil)

// Dial connects to a relay, announces the room and participant, and
// returns a ready Bus. The connection is torn down when the relay goes
// away or Close is called; subscribers learn of it by their channels
// closing.
func Dial(ctx context.Context, rawURL, roomID, participantID string, logger *slog.Logger) (*Client, error) {
	join := Join{RoomID: roomID, ParticipantID: participantID}
	if err := join.Validate(); err != nil {
		return nil, fmt.Errorf("relay: join: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", rawURL, err)
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: join: %w", err)
	}
	conn.SetReadLimit(int64(bus.MaxPayloadBytes) + 4096)

	c := &Client{
		conn:          conn,
		logger:        logger,
		subscribeCh:   make(chan chan bus.Envelope),
		unsubscribeCh: make(chan chan bus.Envelope),
		publishCh:     make(chan []byte, 256),
		inboundCh:     make(chan bus.Envelope, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go c.run()
	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) run() {
	defer close(c.stopped)

	subs := make(map[chan bus.Envelope]struct{})

	for {
		select {
		case <-c.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-c.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-c.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case env := <-c.inboundCh:
			for ch := range subs {
				select {
				case ch <- env:
				default:
					// Subscriber buffer full; skip to avoid blocking
					// the loop.
				}
			}
		}
	}
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("relay: connection lost", slog.String("error", err.Error()))
			}
			c.shutdown()
			return
		}

		var env bus.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("relay: dropping malformed frame", slog.String("error", err.Error()))
			continue
		}

		select {
		case c.inboundCh <- env:
		case <-c.stopped:
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.stopCh:
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
			return

		case data := <-c.publishCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("relay: write failed", slog.String("error", err.Error()))
				c.shutdown()
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

// Close tears the connection down and closes every subscriber channel.
func (c *Client) Close() {
	c.shutdown()
	<-c.stopped
}

// Publish hands env to the writer goroutine. Like the in-process broker,
// publishing to a closed client is a silent no-op.
func (c *Client) Publish(env bus.Envelope) error {
	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: marshal envelope: %w", err)
	}

	select {
	case c.publishCh <- data:
	case <-c.stopped:
	}
	return nil
}

// Subscribe adds a subscriber and returns its channel. The relay never
// echoes a connection's own frames back, so unlike the in-process
// broker a subscriber here only ever sees peer traffic.
func (c *Client) Subscribe() chan bus.Envelope {
	ch := make(chan bus.Envelope, 64)
	if c.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case c.subscribeCh <- ch:
	case <-c.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Client) Unsubscribe(ch chan bus.Envelope) {
	if c.closed.Load() {
		return
	}
	select {
	case c.unsubscribeCh <- ch:
	case <-c.stopped:
	}
}
