package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(hub *Hub, address string) *Client {
	return &Client{
		ID:      "client-" + address,
		Address: address,
		send:    make(chan []byte, 1),
		hub:     hub,
		log:     zap.NewNop(),
	}
}

func TestHubLifecycle(t *testing.T) {
	t.Run("运行中注销关闭发送通道", func(t *testing.T) {
		hub := NewHub([]string{"*"}, nil, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan error, 1)
		go func() { stopped <- hub.Run(ctx) }()
		defer func() {
			cancel()
			require.NoError(t, <-stopped)
		}()

		client := newTestClient(hub, "alice@drop.mail")
		hub.register <- client

		client.detach()

		select {
		case _, ok := <-client.send:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("注销未被处理")
		}
	})

	t.Run("停止后注销立即返回不阻塞", func(t *testing.T) {
		hub := NewHub([]string{"*"}, nil, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan error, 1)
		go func() { stopped <- hub.Run(ctx) }()
		cancel()
		require.NoError(t, <-stopped)

		client := newTestClient(hub, "alice@drop.mail")
		detached := make(chan struct{})
		go func() {
			client.detach()
			close(detached)
		}()

		select {
		case <-detached:
		case <-time.After(time.Second):
			t.Fatal("注销在 Hub 停止后阻塞")
		}
	})
}
