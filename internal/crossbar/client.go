package crossbar

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/practable/gcs/internal/hub"
	log "github.com/sirupsen/logrus"
)

// sendBufferSize is how many frames may wait for the write pump
// before the client is treated as too slow and dropped
const sendBufferSize = 256

func newClient(closed <-chan struct{}, h *hub.Hub, conn *websocket.Conn, r *http.Request) *Client {
	return &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		closed:      closed,
		acceptOnce:  &sync.Once{},
		closeOnce:   &sync.Once{},
		name:        uuid.New().String(),
		userAgent:   r.UserAgent(),
		remoteAddr:  remoteAddr(r),
		connectedAt: time.Now(),
	}
}

// Accept starts the pumps for the client; later calls do nothing.
func (c *Client) Accept() error {

	if c.conn == nil {
		return errMissingUpgraded
	}

	c.acceptOnce.Do(func() {
		go c.writePump()
		go c.readPump()
		log.WithFields(log.Fields{"client": c.name, "remoteAddr": c.remoteAddr, "userAgent": c.userAgent}).Debug("accepted client")
	})

	return nil
}

// Send queues frame for the write pump without blocking. It fails if
// the client has closed. A client whose buffer is full is closed.
func (c *Client) Send(ctx context.Context, frame []byte) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		log.WithField("client", c.name).Warn("send buffer full, closing client")
		c.Close()
		return ErrSendBufferFull
	}
}

// Done is closed once the client has closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the websocket connection and stops the pumps. Later calls do nothing.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		log.WithFields(log.Fields{"client": c.name, "connected": time.Since(c.connectedAt).String()}).Debug("closed client")
	})
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
