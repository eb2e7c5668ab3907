package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnrecognizedPayload is returned when a channel payload cannot be mapped
// to any inbound message. The delivery is dropped and logged.
var ErrUnrecognizedPayload = errors.New("channel: unrecognized payload")

// ErrVerificationFailed is returned when a webhook verification handshake
// carries a token that does not match any active integration. The request is
// rejected before any side effect.
var ErrVerificationFailed = errors.New("channel: verification failed")

// DeliveryError reports a failed outbound send. The already-persisted chat
// log stands regardless; callers log and move on.
type DeliveryError struct {
	Channel ChannelType
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("channel %s: delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Adapter is the base interface every channel adapter implements.
type Adapter interface {
	Type() ChannelType
}

// Normalizer converts one raw channel payload into zero or more canonical
// inbound messages. Implementations are stateless; a batched delivery expands
// into independent messages with no ordering assumption across users.
type Normalizer interface {
	Normalize(payload []byte) ([]InboundMessage, error)
}

// Sender delivers a resolved reply through the originating channel's send API.
type Sender interface {
	Send(ctx context.Context, creds SendCredentials, reply Reply) error
}
