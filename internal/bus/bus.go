// Package bus carries the room's broadcast traffic: envelopes published to
// named channels and fanned out to every subscriber with no delivery
// confirmation. The in-process Broker serves single-host sessions; the
// relay client implements the same Bus interface over a websocket.
package bus

import "encoding/json"

// MaxPayloadBytes is the ceiling on a serialized payload. Larger payloads
// are rejected before they reach the bus, so content above the ceiling
// must travel out of band (a URL instead of inline HTML).
const MaxPayloadBytes = 64 * 1024

// Envelope is the unit of broadcast traffic. Payload stays raw until a
// receiver picks the struct for the channel.
type Envelope struct {
	Channel  string          `json:"channel"`
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Bus is a fire-and-forget broadcast fabric. Publish never reports
// delivery, only that the envelope was handed to the fabric; subscribers
// that fall behind lose envelopes rather than slow the rest of the room.
type Bus interface {
	Publish(env Envelope) error
	Subscribe() chan Envelope
	Unsubscribe(ch chan Envelope)
	Close()
}
