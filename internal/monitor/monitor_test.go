package monitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/practable/gcs/internal/hub"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

func init() {
	debug := false
	if debug {
		log.SetLevel(log.TraceLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
		log.SetOutput(os.Stdout)
	} else {
		var ignore bytes.Buffer
		logignore := bufio.NewWriter(&ignore)
		log.SetOutput(logignore)
	}
}

type published struct {
	topic string
	data  hub.Data
}

type mockPublisher struct {
	mu  sync.Mutex
	got []published
}

func (p *mockPublisher) Broadcast(ctx context.Context, topic string, data hub.Data) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, published{topic: topic, data: data})
	return 1
}

func (p *mockPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.got {
		if m.topic == topic {
			n++
		}
	}
	return n
}

func (p *mockPublisher) all(topic string) []hub.Data {
	p.mu.Lock()
	defer p.mu.Unlock()
	var d []hub.Data
	for _, m := range p.got {
		if m.topic == topic {
			d = append(d, m.data)
		}
	}
	return d
}

func constant(d hub.Data) DataFunc {
	return func() (hub.Data, error) {
		return d, nil
	}
}

// blockUntil waits for n tasks to be sleeping on the fake clock
func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func eventuallyCount(t *testing.T, p *mockPublisher, topic string, n int) {
	assert.Eventually(t, func() bool { return p.count(topic) == n }, time.Second, time.Millisecond,
		"expected %d broadcasts on %s", n, topic)
}

func newTestManager() (*Manager, *mockPublisher, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(start)
	p := &mockPublisher{}
	m := New(p, Config{Clock: clock, GraceDelay: time.Second})
	return m, p, clock
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {

	m, p, _ := newTestManager()

	assert.True(t, m.Register("fast_info", constant(hub.Data{"first": true}), 5*time.Second))
	assert.False(t, m.Register("fast_info", constant(hub.Data{"second": true}), time.Second))

	status := m.Status()
	require.Equal(t, 1, len(status))
	assert.Equal(t, "5s", status[0].Interval)
	assert.Equal(t, StateRegistered, status[0].State)

	n, err := m.SendNow(context.Background(), "fast_info")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	got := p.all("fast_info")
	require.Equal(t, 1, len(got))
	assert.Equal(t, true, got[0]["first"])
	assert.NotContains(t, got[0], "second")
}

func TestSendNowUnknownTopic(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.SendNow(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownTopic))
}

func TestSendNowDoesNotMarkDelivered(t *testing.T) {

	m, p, clock := newTestManager()

	m.Register("static_info", constant(hub.Data{"os_name": "test"}), OneShot)

	_, err := m.SendNow(context.Background(), "static_info")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)
	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	eventuallyCount(t, p, "static_info", 2)
	m.StopAll()
}

func TestOneShotDeliversOnce(t *testing.T) {

	m, p, clock := newTestManager()

	calls := 0
	var mu sync.Mutex

	m.Register("static_info", func() (hub.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return hub.Data{"os_name": "Debian GNU/Linux 12 (bookworm)"}, nil
	}, OneShot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)
	m.StartAll(ctx) // still in grace delay, so left alone

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	eventuallyCount(t, p, "static_info", 1)

	assert.Eventually(t, func() bool {
		s := m.Status()[0]
		return s.State == StateStopped && s.Delivered
	}, time.Second, time.Millisecond)

	// start again without stopping; the finished task is replaced by one that does nothing
	m.StartAll(ctx)
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return p.count("static_info") > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	// and after a stop/start cycle
	m.StopAll()
	m.StartAll(ctx)
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return p.count("static_info") > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	m.StopAll()

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	got := p.all("static_info")
	assert.Equal(t, "2026-10-19T10:00:00.000000Z", got[0]["timestamp"])
}

func TestOneShotFailureIsNotRetriedUntilRestart(t *testing.T) {

	m, p, clock := newTestManager()

	var mu sync.Mutex
	fail := true

	m.Register("static_info", func() (hub.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("cannot read /etc/os-release")
		}
		return hub.Data{"os_name": "test"}, nil
	}, OneShot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	assert.Eventually(t, func() bool {
		return m.Status()[0].State == StateStopped
	}, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	assert.Equal(t, 0, p.count("static_info"))
	assert.False(t, m.Status()[0].Delivered)

	mu.Lock()
	fail = false
	mu.Unlock()

	m.StopAll()
	m.StartAll(ctx)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	eventuallyCount(t, p, "static_info", 1)

	m.StopAll()
}

func TestOneShotCancelledDuringGraceDelay(t *testing.T) {

	m, p, clock := newTestManager()

	m.Register("static_info", constant(hub.Data{"os_name": "test"}), OneShot)

	m.StartAll(context.Background())
	blockUntil(t, clock, 1)

	m.StopAll()

	assert.Equal(t, 0, p.count("static_info"))

	status := m.Status()[0]
	assert.Equal(t, StateStopped, status.State)
	assert.False(t, status.Delivered)
}

func TestPeriodicTicks(t *testing.T) {

	m, p, clock := newTestManager()

	interval := 5 * time.Second

	m.Register("fast_info", constant(hub.Data{"x": 1}), interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	// initial broadcast arrives after the grace delay, well before a full interval
	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	eventuallyCount(t, p, "fast_info", 1)

	// then one per interval
	for i := 2; i <= 5; i++ {
		blockUntil(t, clock, 1)
		clock.Advance(interval - time.Millisecond)
		assert.Never(t, func() bool { return p.count("fast_info") >= i }, 20*time.Millisecond, 2*time.Millisecond)
		clock.Advance(time.Millisecond)
		eventuallyCount(t, p, "fast_info", i)
	}

	// 1s + 4 intervals of simulated time gave five broadcasts
	assert.Equal(t, start.Add(time.Second+4*interval), clock.Now())

	got := p.all("fast_info")
	assert.Equal(t, "2026-10-19T10:00:00.000000Z", got[0]["timestamp"])
	// each snapshot is collected at the start of its interval
	assert.Equal(t, "2026-10-19T10:00:01.000000Z", got[1]["timestamp"])
	assert.Equal(t, "2026-10-19T10:00:06.000000Z", got[2]["timestamp"])

	m.StopAll()
	assert.Equal(t, StateStopped, m.Status()[0].State)
}

func TestPeriodicRestartBeginsWithInitialBroadcast(t *testing.T) {

	m, p, clock := newTestManager()

	m.Register("slow_info", constant(hub.Data{"uptime": "0 days 0 hours 1 minutes"}), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)
	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	eventuallyCount(t, p, "slow_info", 1)

	blockUntil(t, clock, 1) // sleeping for the interval
	m.StopAll()
	assert.Equal(t, StateStopped, m.Status()[0].State)

	m.StartAll(ctx)
	assert.Equal(t, StateRunning, m.Status()[0].State)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	eventuallyCount(t, p, "slow_info", 2)

	m.StopAll()
}

func TestPeriodicErrorRetriesAfterInterval(t *testing.T) {

	m, p, clock := newTestManager()

	var mu sync.Mutex
	calls := 0

	m.Register("fast_info", func() (hub.Data, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 2:
			return nil, errors.New("sensor read failed")
		case 3:
			panic("sensor driver crashed")
		}
		return hub.Data{"call": n}, nil
	}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	eventuallyCount(t, p, "fast_info", 1)

	// call 2 fails: wait one interval before call 3
	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second)

	// call 3 panics: wait another interval before call 4
	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second)

	// call 4 succeeds and is published at the end of its interval
	blockUntil(t, clock, 1)
	assert.Equal(t, 1, p.count("fast_info"))
	clock.Advance(5 * time.Second)
	eventuallyCount(t, p, "fast_info", 2)

	got := p.all("fast_info")
	assert.Equal(t, 4, got[1]["call"])

	m.StopAll()
}

func TestStatus(t *testing.T) {

	m, _, clock := newTestManager()

	m.Register("static_info", constant(hub.Data{}), OneShot)
	m.Register("slow_info", constant(hub.Data{}), time.Minute)
	m.Register("fast_info", constant(hub.Data{}), 5*time.Second)

	for _, s := range m.Status() {
		assert.Equal(t, StateRegistered, s.State)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	status := m.Status()
	require.Equal(t, 3, len(status))
	assert.Equal(t, "static_info", status[0].Topic)
	assert.True(t, status[0].OneShot)
	assert.Equal(t, "once", status[0].Interval)
	assert.Equal(t, "1m0s", status[1].Interval)
	for _, s := range status {
		assert.Equal(t, StateRunning, s.State)
	}

	blockUntil(t, clock, 3)
	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		s := m.Status()[0]
		return s.State == StateStopped && s.Delivered
	}, time.Second, time.Millisecond)

	m.StopAll()

	for _, s := range m.Status() {
		assert.Equal(t, StateStopped, s.State)
	}
}

func TestCancelParentContextStopsTasks(t *testing.T) {

	m, _, clock := newTestManager()

	m.Register("fast_info", constant(hub.Data{}), 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	m.StartAll(ctx)
	blockUntil(t, clock, 1)
	cancel()

	assert.Eventually(t, func() bool {
		return m.Status()[0].State == StateStopped
	}, time.Second, time.Millisecond)

	// StopAll still tidies up a task that has already finished
	m.StopAll()
	assert.Equal(t, StateStopped, m.Status()[0].State)
}

// hubConn is a minimal hub.Conn that records frames
type hubConn struct {
	mu     sync.Mutex
	frames [][]byte
	done   chan struct{}
}

func (c *hubConn) Accept() error { return nil }

func (c *hubConn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *hubConn) Done() <-chan struct{} { return c.done }

func (c *hubConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *hubConn) messages(t *testing.T) []hub.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []hub.Message
	for _, f := range c.frames {
		var m hub.Message
		require.NoError(t, json.Unmarshal(f, &m))
		msgs = append(msgs, m)
	}
	return msgs
}

func TestWithHub(t *testing.T) {

	clock := clockwork.NewFakeClockAt(start)
	h := hub.New()
	m := New(h, Config{Clock: clock})

	m.Register("fast_info", constant(hub.Data{"x": 1}), 5*time.Second)

	c := &hubConn{done: make(chan struct{})}
	require.True(t, h.Connect(c, ""))
	require.True(t, h.Subscribe(c, "fast_info"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartAll(ctx)

	blockUntil(t, clock, 1)
	clock.Advance(DefaultGraceDelay)

	assert.Eventually(t, func() bool { return len(c.messages(t)) == 1 }, time.Second, time.Millisecond)

	msgs := c.messages(t)
	assert.Equal(t, "fast_info", msgs[0].Topic)
	assert.Equal(t, float64(1), msgs[0].Data["x"])
	ts0, err := time.Parse(TimestampFormat, msgs[0].Data["timestamp"].(string))
	require.NoError(t, err)

	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second)

	assert.Eventually(t, func() bool { return len(c.messages(t)) == 2 }, time.Second, time.Millisecond)

	msgs = c.messages(t)
	ts1, err := time.Parse(TimestampFormat, msgs[1].Data["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, ts1.After(ts0))

	m.StopAll()
}
