package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triple-jay-dashboard/internal/domain"
)

// Stream names
const (
	StreamLeaderboardChanged = "leaderboard-changed"
	StreamOverlayTriggered   = "overlay-triggered"
)

// Streams lists every stream the dashboard consumes
var Streams = []string{StreamLeaderboardChanged, StreamOverlayTriggered}

// KnownStream reports whether name is one of the dashboard streams
func KnownStream(name string) bool {
	for _, s := range Streams {
		if s == name {
			return true
		}
	}
	return false
}

// Event is a single push notification
type Event struct {
	Stream     string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Envelope is the framed wire format used by transports that multiplex
// every stream over one connection or topic
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode frames a payload for stream. A nil payload produces an envelope without data.
func Encode(stream string, payload any) ([]byte, error) {
	env := Envelope{Type: stream, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s payload: %w", stream, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses one envelope frame
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if !KnownStream(env.Type) {
		return Event{}, fmt.Errorf("%w: %q", domain.ErrUnknownStream, env.Type)
	}
	return Event{Stream: env.Type, Payload: env.Data, ReceivedAt: time.Now()}, nil
}

// DecodeBatch parses a frame holding one or more newline-separated envelopes.
// Frames that fail to decode are returned as errors alongside the good ones.
func DecodeBatch(frame []byte) ([]Event, []error) {
	var (
		out  []Event
		errs []error
	)
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ev)
	}
	return out, errs
}

// ErrorReason labels a decode error for metrics
func ErrorReason(err error) string {
	if errors.Is(err, domain.ErrUnknownStream) {
		return "unknown_stream"
	}
	return "invalid_envelope"
}
