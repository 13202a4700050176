package hub

import (
	"context"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/jonboulle/clockwork"
)

// AllTopic labels envelopes sent with BroadcastToAll
const AllTopic = "broadcast"

// Conn is a single client connection as seen by the Hub.
// Implementations must be comparable (typically a pointer),
// because the Hub uses the value itself as the connection identity.
type Conn interface {

	// Accept completes the handshake with the client. It must be safe
	// to call more than once.
	Accept() error

	// Send delivers one frame to the client. A non-nil error, unless
	// ctx is done, means the connection can no longer be used.
	Send(ctx context.Context, frame []byte) error

	// Done is closed once the connection is no longer valid.
	Done() <-chan struct{}

	// Close ends the connection. It must be safe to call more than once.
	Close()
}

// Hub maintains the set of active connections and the topics
// they subscribe to, and broadcasts messages to them.
type Hub struct {
	mu *sync.RWMutex

	// all accepted connections
	connections map[Conn]bool

	// subscribers by topic
	topics map[string]map[Conn]bool

	stats *Stats
}

// Data is a flat set of named fields. Values must be strings,
// booleans or numbers; this is checked when the envelope is marshalled.
type Data map[string]interface{}

// Message is the envelope each subscriber receives
type Message struct {
	Topic string `json:"topic"`
	Data  Data   `json:"data"`
}

// Stats represents statistics about broadcasts made by the hub
type Stats struct {
	mu *sync.Mutex

	clock clockwork.Clock

	// how many subscribers each broadcast was offered to
	Audience *welford.Stats

	// size of each envelope in bytes
	Bytes *welford.Stats

	// seconds between broadcasts
	Dt *welford.Stats

	Last time.Time

	Broadcasts uint64

	Deliveries uint64

	Pruned uint64
}

// Report represents hub statistics in a form suitable for reporting externally
type Report struct {
	Connections int            `json:"connections"`
	Topics      map[string]int `json:"topics"`
	Broadcasts  uint64         `json:"broadcasts"`
	Deliveries  uint64         `json:"deliveries"`
	Pruned      uint64         `json:"pruned"`
	Last        string         `json:"last"`
	Audience    WelfordStats   `json:"audience"`
	Bytes       WelfordStats   `json:"bytes"`
	Dt          WelfordStats   `json:"dt"`
}

// WelfordStats represents statistical values
type WelfordStats struct {
	Count    uint64  `json:"count"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Stddev   float64 `json:"stddev"`
	Variance float64 `json:"variance"`
}

// Request is sent by a client to change its subscriptions
type Request struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

// Request actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// PongTopic labels the reply to a ping request
const PongTopic = "pong"
