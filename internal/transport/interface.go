package transport

import "context"

// Channel is one persistent duplex connection between a browser and the
// bridge. Delivery is ordered and reliable per direction. The receive
// channel closes when the underlying connection is gone, which callers
// must treat the same as an explicit client disconnect.
type Channel interface {
	Receive() <-chan Envelope
	Send(ctx context.Context, env Envelope) error
	Close(reason string) error
	RemoteAddr() string
}
