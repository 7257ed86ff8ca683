// Package relay carries a room's broadcast traffic between processes
// over websockets. The server is a dumb pipe: a connection names its
// room and participant in a join frame, then every later frame is fanned
// out verbatim to every other connection in the same room. Nothing is
// stored, nothing is ordered, and a client that stops reading is
// dropped.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/websocket"

	"github.com/wrenfield/loreshare/internal/bus"
)

// joinTimeout bounds how long a fresh connection may sit silent before
// sending its join frame.
const joinTimeout = 5 * time.Second

// Join is the first frame every connection must send.
type Join struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
}

func (j Join) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.RoomID, validation.Required),
		validation.Field(&j.ParticipantID, validation.Required),
	)
}

type client struct {
	room string
	id   string
	send chan []byte
}

type frame struct {
	from *client
	data []byte
}

// Server fans frames out per room.
//
// Concurrency model: a single event loop owns the room map. Connection
// handlers talk to it through channels only.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	joinCh  chan *client
	leaveCh chan *client
	frameCh chan frame

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewServer creates a relay server and starts its event loop.
func NewServer(logger *slog.Logger) *Server {
	s := &Server{
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		joinCh:   make(chan *client),
		leaveCh:  make(chan *client),
		frameCh:  make(chan frame, 256),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Server) run() {
	defer close(s.stopped)

	rooms := make(map[string]map[*client]struct{})

	drop := func(c *client) {
		peers := rooms[c.room]
		if _, ok := peers[c]; !ok {
			return
		}
		delete(peers, c)
		if len(peers) == 0 {
			delete(rooms, c.room)
		}
		close(c.send)
	}

	for {
		select {
		case <-s.stopCh:
			for _, peers := range rooms {
				for c := range peers {
					close(c.send)
				}
			}
			return

		case c := <-s.joinCh:
			if rooms[c.room] == nil {
				rooms[c.room] = make(map[*client]struct{})
			}
			rooms[c.room][c] = struct{}{}
			s.logger.Info("relay: joined",
				slog.String("room", c.room),
				slog.String("participant", c.id),
				slog.Int("peers", len(rooms[c.room])))

		case c := <-s.leaveCh:
			drop(c)

		case f := <-s.frameCh:
			for c := range rooms[f.from.room] {
				if c == f.from {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					// The client stopped reading; it is cut loose rather
					// than allowed to stall the room.
					s.logger.Warn("relay: dropping slow client",
						slog.String("room", c.room),
						slog.String("participant", c.id))
					drop(c)
				}
			}
		}
	}
}

// Close stops the event loop and releases every connection's send
// channel.
func (s *Server) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

// ServeHTTP upgrades the connection, reads the join frame, and then
// pumps frames between the socket and the room until either side goes
// away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Envelopes are bounded by the payload ceiling; the slack covers the
	// envelope fields around the payload.
	conn.SetReadLimit(int64(bus.MaxPayloadBytes) + 4096)

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var join Join
	if err := conn.ReadJSON(&join); err != nil {
		s.logger.Warn("relay: no join frame", slog.String("error", err.Error()))
		return
	}
	if err := join.Validate(); err != nil {
		s.logger.Warn("relay: bad join frame", slog.String("error", err.Error()))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, fmt.Sprintf("bad join: %v", err)))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &client{room: join.RoomID, id: join.ParticipantID, send: make(chan []byte, 64)}
	select {
	case s.joinCh <- c:
	case <-s.stopped:
		return
	}

	// Writer goroutine; the socket allows one concurrent writer. It ends
	// when the event loop closes send, and closing the conn unblocks the
	// read loop below.
	go func() {
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		select {
		case s.frameCh <- frame{from: c, data: data}:
		case <-s.stopped:
			return
		}
	}

	select {
	case s.leaveCh <- c:
	case <-s.stopped:
	}
	s.logger.Info("relay: left",
		slog.String("room", c.room),
		slog.String("participant", c.id))
}
