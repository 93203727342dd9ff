package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// WSProbe measures reachability by dialing a WebSocket endpoint and waiting
// for a pong. Useful against services that only expose a socket, where a
// plain HTTP GET would be rejected.
type WSProbe struct {
	endpoint string
	dialer   *websocket.Dialer
}

// NewWSProbe creates a WebSocket ping probe.
func NewWSProbe(endpoint string, timeout time.Duration) *WSProbe {
	return &WSProbe{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

// Check dials, pings, and waits for the pong.
func (p *WSProbe) Check(ctx context.Context) (int64, error) {
	start := time.Now()

	conn, _, err := p.dialer.DialContext(ctx, p.endpoint, nil)
	if err != nil {
		return -1, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return -1, fmt.Errorf("write ping: %w", err)
	}

	// Reading drives the pong handler.
	done := make(chan error, 1)
	go func() {
		_ = conn.SetReadDeadline(deadline)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case <-pong:
		return time.Since(start).Milliseconds(), nil
	case err := <-done:
		return -1, fmt.Errorf("await pong: %w", err)
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
