package gateway

import (
	"context"
	"sync/atomic"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/payload"
)

// streamTransport adapts the DingTalk stream SDK client to Transport
type streamTransport struct {
	client *client.StreamClient
	closed atomic.Bool
}

// NewStreamTransport creates a stream-mode transport using the DingTalk SDK
func NewStreamTransport(clientID, clientSecret string) Transport {
	return newStreamTransport(clientID, clientSecret)
}

func newStreamTransport(clientID, clientSecret string, opts ...client.ClientOption) *streamTransport {
	credential := client.NewAppCredentialConfig(clientID, clientSecret)
	opts = append([]client.ClientOption{client.WithAppCredential(credential)}, opts...)
	return &streamTransport{client: client.NewStreamClient(opts...)}
}

// RegisterCallbackListener routes frames for topic to handler. The SDK acknowledges the frame
// with the response returned here, so a handler error is reported back as a failed frame.
func (t *streamTransport) RegisterCallbackListener(topic string, handler FrameHandler) {
	t.client.RegisterCallbackRouter(topic, func(ctx context.Context, df *payload.DataFrame) (*payload.DataFrameResponse, error) {
		// A reconnect already in flight when Disconnect ran can bring the socket back.
		if t.closed.Load() {
			t.client.Close()
			return payload.NewSuccessDataFrameResponse(), nil
		}
		frame := Frame{
			MessageID: df.Headers["messageId"],
			Topic:     topic,
			Data:      []byte(df.Data),
		}
		if err := handler(ctx, frame); err != nil {
			return nil, err
		}
		return payload.NewSuccessDataFrameResponse(), nil
	})
}

func (t *streamTransport) Connect(ctx context.Context) error {
	return t.client.Start(ctx)
}

// Disconnect closes the socket for good. The SDK reconnects whenever its read loop ends,
// Close included, unless AutoReconnect is off.
func (t *streamTransport) Disconnect() {
	t.closed.Store(true)
	t.client.AutoReconnect = false
	t.client.Close()
}
