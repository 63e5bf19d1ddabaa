// Package gateway exposes the sync protocol to browsers: room pages attach
// over a websocket and the gateway runs their sync sessions against the
// backing store; control panels use the REST surface.
package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/festivetech/carolsync/internal/syncer"
)

// MessageType is the type of a websocket envelope.
type MessageType int

// MessageType instances
const (
	MessageTypeHello MessageType = iota
	MessageTypePing
	MessageTypePong
	MessageTypeCommand
	MessageTypeStatus
)

// Envelope is the gateway websocket message format.
type Envelope struct {
	ReceivedAt time.Time   `json:"-"`
	Type       MessageType `json:"type"`
	Payload    interface{} `json:"payload"`
}

type receivedEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HelloPayload greets a freshly attached room with its resolved identity.
type HelloPayload struct {
	Code string `json:"code"`
	Room string `json:"room"`
}

// PingPayload carries the client's send time for RTT measurement.
type PingPayload struct {
	Timestamp float64 `json:"sendtime"`
}

// PongPayload echoes the ping and adds the gateway's service time.
type PongPayload struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

// StatusPayload is what a room page reports upward; it maps onto a status
// write with the session's defaults underneath.
type StatusPayload struct {
	IsPlaying         bool    `json:"isPlaying"`
	CurrentTime       float64 `json:"currentTime"`
	IsActivated       bool    `json:"isActivated"`
	PlayStartTimeMs   int64   `json:"playStartTime,omitempty"`
	PlayStartPosition float64 `json:"playStartPosition,omitempty"`
	SongID            string  `json:"songId,omitempty"`
}

// Options converts the payload into status options for Session.SendStatus.
func (p *StatusPayload) Options() []syncer.StatusOption {
	opts := []syncer.StatusOption{
		syncer.WithPlaying(p.IsPlaying),
		syncer.WithCurrentTime(p.CurrentTime),
		syncer.WithActivated(p.IsActivated),
	}
	if p.PlayStartTimeMs > 0 {
		opts = append(opts, syncer.WithAnchor(p.PlayStartTimeMs, p.PlayStartPosition))
	}
	if p.SongID != "" {
		opts = append(opts, syncer.WithSong(p.SongID))
	}
	return opts
}

// Serialise an Envelope to its wire format.
func (m *Envelope) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise an Envelope from its wire format into m.
func Deserialise(data []byte, m *Envelope) error {
	var rm receivedEnvelope
	if err := json.Unmarshal(data, &rm); err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type

	var err error
	switch m.Type {
	case MessageTypeHello:
		var p HelloPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePing:
		var p PingPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePong:
		var p PongPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeCommand:
		var p syncer.Command
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeStatus:
		var p StatusPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	default:
		return errors.New("unknown envelope type")
	}
	return err
}
