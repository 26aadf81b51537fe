package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload is the content of an envelope: either a framework System
// message or opaque Game bytes. On the wire it is adjacently tagged:
//
//	{"type":"System","data":{"type":"Heartbeat",...}}
//	{"type":"Game","data":[1,2,3]}
//
// Exactly one of System and Game is set.
type Payload struct {
	System SystemMessage
	Game   []byte
}

// SystemPayload wraps a system message.
func SystemPayload(m SystemMessage) Payload { return Payload{System: m} }

// GamePayload wraps opaque game bytes.
func GamePayload(data []byte) Payload { return Payload{Game: data} }

// IsGame reports whether the payload carries game bytes.
func (p Payload) IsGame() bool { return p.System == nil }

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.System != nil {
		data, err := marshalSystem(p.System)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(data)+26)
		out = append(out, `{"type":"System","data":`...)
		out = append(out, data...)
		return append(out, '}'), nil
	}
	data, err := ByteSlice(p.Game).MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+24)
	out = append(out, `{"type":"Game","data":`...)
	out = append(out, data...)
	return append(out, '}'), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch head.Type {
	case "System":
		m, err := unmarshalSystem(head.Data)
		if err != nil {
			return err
		}
		*p = Payload{System: m}
		return nil
	case "Game":
		var b ByteSlice
		if err := b.UnmarshalJSON(head.Data); err != nil {
			return err
		}
		*p = Payload{Game: b}
		return nil
	default:
		return fmt.Errorf("%w: unknown payload type %q", ErrDecode, head.Type)
	}
}

// Envelope wraps every frame exchanged over a connection. Seq is a
// per-direction monotonic counter starting at 1; Timestamp is
// milliseconds on the sender's clock (the server uses time since the
// connection opened). A missing channel decodes as ReliableOrdered.
type Envelope struct {
	Seq       uint64  `json:"seq"`
	Timestamp uint64  `json:"timestamp"`
	Channel   Channel `json:"channel,omitempty"`
	Payload   Payload `json:"payload"`
}

// NewEnvelope builds an envelope on the default channel.
func NewEnvelope(seq, timestamp uint64, payload Payload) Envelope {
	return Envelope{
		Seq:       seq,
		Timestamp: timestamp,
		Channel:   ChannelReliableOrdered,
		Payload:   payload,
	}
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if a.Channel == "" {
		a.Channel = ChannelReliableOrdered
	} else if !a.Channel.valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrDecode, a.Channel)
	}
	*e = Envelope(a)
	return nil
}
