package realtime

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Send after Close or a dropped connection.
var ErrTransportClosed = errors.New("transport closed")

// Transport is one bidirectional connection to the channel for a single session.
// Events is closed when the connection ends for any reason.
type Transport interface {
	Send(ctx context.Context, msg WSMessage) error
	Events() <-chan WSMessage
	Close() error
}

// Dialer opens transports. Reconnection, if any, is the transport's business.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Transport, error)
}
