package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/practable/gcs/internal/hub"
)

// OneShot is the interval that marks a source to be delivered only once
const OneShot time.Duration = 0

// DefaultGraceDelay is how long a newly started source waits before its
// first broadcast, giving freshly opened connections time to subscribe
const DefaultGraceDelay = time.Second

// TimestampFormat is the ISO-8601 layout of the timestamp field added to each snapshot
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// ErrUnknownTopic is returned for a topic that has not been registered
var ErrUnknownTopic = errors.New("unknown topic")

// DataFunc produces a fresh snapshot each time it is called
type DataFunc func() (hub.Data, error)

// Publisher delivers data to the subscribers of a topic, returning
// how many received it
type Publisher interface {
	Broadcast(ctx context.Context, topic string, data hub.Data) int
}

// Config represents configuration options for a Manager
type Config struct {

	// Clock is the source of time for timestamps and waits; defaults to the real clock
	Clock clockwork.Clock

	// GraceDelay defaults to DefaultGraceDelay
	GraceDelay time.Duration
}

// Manager runs registered data sources and publishes their snapshots
type Manager struct {
	mu *sync.Mutex

	clock clockwork.Clock

	grace time.Duration

	publisher Publisher

	sources map[string]*source

	// topics in registration order
	order []string

	// one-shot topics already delivered
	delivered map[string]bool
}

type source struct {
	topic    string
	fn       DataFunc
	interval time.Duration

	// set while a task exists for this source
	cancel context.CancelFunc
	done   chan struct{}

	cancelling bool

	// whether a task has ever been started
	started bool
}

// State describes where a source is in its lifecycle
type State string

// States of a source
const (
	StateRegistered State = "registered"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateStopped    State = "stopped"
)

// SourceStatus represents the externally reported status of a source
type SourceStatus struct {
	Topic     string `json:"topic"`
	Interval  string `json:"interval"`
	OneShot   bool   `json:"oneShot"`
	State     State  `json:"state"`
	Delivered bool   `json:"delivered"`
}
