// Package dispatch delivers one-time passcodes to customers over an
// external channel, usually SMS. Delivery is decoupled from challenge
// persistence: the engine fires a send and moves on, and a failed send
// never invalidates the code it carried.
package dispatch

import (
	"context"
	"errors"
)

// ErrDeliveryRejected is returned when the channel refuses a message
// for a reason retrying will not fix, such as an unroutable number.
var ErrDeliveryRejected = errors.New("delivery rejected")

// Message is one outbound passcode delivery.
type Message struct {
	PhoneNumber string
	Code        string
	ChallengeID string
}

// Sender pushes a message into the delivery channel. Implementations
// must respect the context deadline; the engine bounds every send.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// NoOpSender discards messages. Useful in tests and in deployments that
// surface codes through another path.
type NoOpSender struct{}

func (NoOpSender) Name() string { return "noop" }

func (NoOpSender) Send(context.Context, Message) error { return nil }
