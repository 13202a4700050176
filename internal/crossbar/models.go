package crossbar

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/practable/gcs/internal/destination"
	"github.com/practable/gcs/internal/hub"
	"github.com/practable/gcs/internal/monitor"
)

// Config represents configuration options for a crossbar instance
// Use this struct to pass configuration as argument during testing
type Config struct {

	// Listen is the listening port
	Listen int

	// Hub holds the connections made to the crossbar
	Hub *hub.Hub

	// Monitor is reported on /api/status, if present
	Monitor *monitor.Manager

	// Destinations are served under /ground-control-station, if present
	Destinations *destination.Store

	// HTTPWait limits how long to wait for the http.Server to shut down
	HTTPWait time.Duration
}

// NewDefaultConfig returns a pointer to a Config struct with default parameters
func NewDefaultConfig() *Config {
	c := &Config{}
	c.Listen = 8000
	c.Hub = hub.New()
	c.HTTPWait = 5 * time.Second
	return c
}

// WithListen specified which (int) port to listen on
func (c *Config) WithListen(listen int) *Config {
	c.Listen = listen
	return c
}

// WithMonitor specifies the monitor to report on
func (c *Config) WithMonitor(m *monitor.Manager) *Config {
	c.Monitor = m
	return c
}

// WithDestinations specifies the destination store to serve
func (c *Config) WithDestinations(s *destination.Store) *Config {
	c.Destinations = s
	return c
}

// Errors returned by Client.Send
var (
	ErrClientClosed    = errors.New("client closed")
	ErrSendBufferFull  = errors.New("send buffer full")
	errMissingUpgraded = errors.New("no websocket connection")
)

// Client is a middleperson between the websocket connection and the hub.
// It implements hub.Conn.
type Client struct {
	hub *hub.Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// closed when the client can no longer be used
	done chan struct{}

	// closed when the crossbar shuts down
	closed <-chan struct{}

	acceptOnce *sync.Once

	closeOnce *sync.Once

	name string

	userAgent string

	remoteAddr string

	connectedAt time.Time
}

// Status represents the report served on /api/status
type Status struct {
	Hub hub.Report `json:"hub"`

	Monitors []monitor.SourceStatus `json:"monitors"`
}
