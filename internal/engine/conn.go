package engine

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"comfyrelay/internal/domain"
)

// ErrIdleTimeout is returned by Next when no frame arrived within the idle window.
var ErrIdleTimeout = errors.New("engine: idle timeout")

// Conn is an open event socket. Next is meant for a single reader; Close may
// be called from any goroutine.
type Conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Next blocks until the next text frame and decodes it. Binary frames
// (preview images) are skipped. idle bounds the wait for each frame; zero
// waits forever. Transport failures wrap domain.ErrTransport, malformed
// frames wrap ErrProtocol.
func (c *Conn) Next(idle time.Duration) (Message, error) {
	for {
		if idle > 0 {
			if err := c.ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return Message{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
		}
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Message{}, fmt.Errorf("%w: %w after %s", domain.ErrTransport, ErrIdleTimeout, idle)
			}
			return Message{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		return decodeMessage(frame)
	}
}

// Close tears down the socket without a close handshake so a blocked Next
// returns promptly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
