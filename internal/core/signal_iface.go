package core

// Frame is one raw text frame of the duplex event stream.
type Frame []byte

// Sender is the outbound half of the signal transport.
// Send never blocks on the network: frames sent while the transport is down
// are buffered by the adapter and flushed in order on reconnect.
type Sender interface {
	Send(Event) error
}

// Subscriber is the inbound half of the signal transport. Handlers run on
// the transport's single read goroutine, one frame at a time.
type Subscriber interface {
	Subscribe(tag EventType, fn func(Frame)) (unsubscribe func())
}
