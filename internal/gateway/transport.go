package gateway

import "context"

// Frame is one inbound callback delivered by a transport
type Frame struct {
	MessageID string
	Topic     string
	Data      []byte
}

// FrameHandler processes a frame. Returning acknowledges the frame to DingTalk.
type FrameHandler func(ctx context.Context, frame Frame) error

// Transport is a persistent per-account connection to DingTalk
type Transport interface {
	RegisterCallbackListener(topic string, handler FrameHandler)
	Connect(ctx context.Context) error
	Disconnect()
}

// TransportFactory creates a transport for a credential pair
type TransportFactory func(clientID, clientSecret string) Transport
