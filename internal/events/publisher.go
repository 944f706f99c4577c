package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends events to a push-event source. payload may be nil for
// streams that carry none.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload any) error
	Close() error
}

// MarshalPayload encodes payload for transports that carry the stream name
// out of band. A nil payload encodes as an empty body.
func MarshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload: %w", err)
	}
	return data, nil
}
