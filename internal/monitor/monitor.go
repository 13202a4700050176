/*
monitor runs the data sources that feed the dashboard, collecting a
snapshot from each on its own schedule and publishing it to the
subscribers of the source's topic

Copyright (C) 2025 Timothy Drysdale <timothy.d.drysdale@gmail.com>

*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/practable/gcs/internal/hub"
	"github.com/practable/gcs/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// New returns a pointer to a Manager that publishes to p
func New(p Publisher, config Config) *Manager {

	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	if config.GraceDelay == 0 {
		config.GraceDelay = DefaultGraceDelay
	}

	return &Manager{
		mu:        &sync.Mutex{},
		clock:     config.Clock,
		grace:     config.GraceDelay,
		publisher: p,
		sources:   make(map[string]*source),
		delivered: make(map[string]bool),
	}
}

// Register adds a data source for topic. A one-shot source has an
// interval of OneShot (or any interval that is not positive). It returns
// false, keeping the existing source, if topic is already registered.
func (m *Manager) Register(topic string, fn DataFunc, interval time.Duration) bool {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[topic]; ok {
		log.WithField("topic", topic).Warn("monitor already registered")
		return false
	}

	m.sources[topic] = &source{
		topic:    topic,
		fn:       fn,
		interval: interval,
	}
	m.order = append(m.order, topic)

	log.WithFields(log.Fields{"topic": topic, "interval": describe(interval)}).Info("registered monitor")

	return true
}

// StartAll starts a task for each registered source that does not
// already have one running. Tasks stop when ctx is cancelled or
// StopAll is called.
func (m *Manager) StartAll(ctx context.Context) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, topic := range m.order {

		s := m.sources[topic]

		if s.running() {
			continue
		}

		taskCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		s.cancel = cancel
		s.done = done
		s.cancelling = false
		s.started = true

		if s.oneShot() {
			go m.sendOnce(taskCtx, s, done)
		} else {
			go m.loop(taskCtx, s, done)
		}

		log.WithFields(log.Fields{"topic": topic, "interval": describe(s.interval)}).Info("started monitor")
	}
}

// StopAll cancels every task and waits for each one to finish. No task
// is running once it returns.
func (m *Manager) StopAll() {

	type task struct {
		s    *source
		done chan struct{}
	}

	var tasks []task

	m.mu.Lock()
	for _, topic := range m.order {
		s := m.sources[topic]
		if s.done == nil {
			continue
		}
		s.cancel()
		s.cancelling = true
		tasks = append(tasks, task{s: s, done: s.done})
	}
	m.mu.Unlock()

	for _, t := range tasks {
		<-t.done
	}

	m.mu.Lock()
	for _, t := range tasks {
		// a concurrent StartAll may have replaced the task after it finished
		if t.s.done == t.done {
			t.s.cancel = nil
			t.s.done = nil
			t.s.cancelling = false
		}
		log.WithField("topic", t.s.topic).Info("stopped monitor")
	}
	m.mu.Unlock()
}

// SendNow collects and publishes one snapshot for topic straight away,
// without the grace delay, and regardless of whether its task is running.
// It does not affect the delivered flag of one-shot sources.
func (m *Manager) SendNow(ctx context.Context, topic string) (int, error) {

	m.mu.Lock()
	s, ok := m.sources[topic]
	m.mu.Unlock()

	if !ok {
		return 0, ErrUnknownTopic
	}

	data, err := m.collect(s)
	if err != nil {
		return 0, err
	}

	sent := m.publisher.Broadcast(ctx, topic, data)

	log.WithFields(log.Fields{"topic": topic, "sent": sent}).Info("sent single update")

	return sent, nil
}

// Status reports the state of each source, in registration order
func (m *Manager) Status() []SourceStatus {

	m.mu.Lock()
	defer m.mu.Unlock()

	status := make([]SourceStatus, 0, len(m.order))

	for _, topic := range m.order {

		s := m.sources[topic]

		state := StateRegistered

		switch {
		case s.cancelling:
			state = StateCancelling
		case s.running():
			state = StateRunning
		case s.started:
			state = StateStopped
		}

		status = append(status, SourceStatus{
			Topic:     topic,
			Interval:  describe(s.interval),
			OneShot:   s.oneShot(),
			State:     state,
			Delivered: m.delivered[topic],
		})
	}

	return status
}

// sendOnce publishes a single snapshot for a one-shot source, unless
// it has already been delivered during the life of this Manager.
func (m *Manager) sendOnce(ctx context.Context, s *source, done chan struct{}) {

	defer close(done)

	if m.isDelivered(s.topic) {
		return
	}

	err := m.tick(ctx, s, m.grace)

	switch {
	case err == nil:
		m.setDelivered(s.topic)
		log.WithField("topic", s.topic).Info("sent one-time update")
	case errors.Is(err, context.Canceled):
		log.WithField("topic", s.topic).Info("one-time update cancelled")
	default:
		log.WithFields(log.Fields{"topic": s.topic, "error": err.Error()}).Error("error sending one-time update")
	}
}

// loop publishes a snapshot immediately (after the grace delay), then
// once per interval until cancelled. Each snapshot is collected at the
// start of its interval and published at the end of it.
func (m *Manager) loop(ctx context.Context, s *source, done chan struct{}) {

	defer close(done)

	log.WithFields(log.Fields{"topic": s.topic, "interval": s.interval}).Info("starting monitor loop")

	err := m.tick(ctx, s, m.grace)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.WithField("topic", s.topic).Info("monitor cancelled")
		return
	default:
		log.WithFields(log.Fields{"topic": s.topic, "error": err.Error()}).Error("error in initial broadcast")
	}

	for {

		err := m.tick(ctx, s, s.interval)

		if err == nil {
			continue
		}

		if errors.Is(err, context.Canceled) {
			log.WithField("topic", s.topic).Info("monitor cancelled")
			return
		}

		log.WithFields(log.Fields{"topic": s.topic, "error": err.Error()}).Error("error in monitor loop")

		if !m.sleep(ctx, s.interval) {
			log.WithField("topic", s.topic).Info("monitor cancelled")
			return
		}
	}
}

// tick collects a snapshot, waits, then publishes it. It returns
// context.Canceled if ctx was cancelled during the wait or the publish.
func (m *Manager) tick(ctx context.Context, s *source, wait time.Duration) error {

	data, err := m.collect(s)
	if err != nil {
		metrics.MonitorTicks.WithLabelValues(s.topic, metrics.ResultError).Inc()
		return err
	}

	if !m.sleep(ctx, wait) {
		metrics.MonitorTicks.WithLabelValues(s.topic, metrics.ResultCancelled).Inc()
		return context.Canceled
	}

	sent := m.publisher.Broadcast(ctx, s.topic, data)

	if ctx.Err() != nil {
		metrics.MonitorTicks.WithLabelValues(s.topic, metrics.ResultCancelled).Inc()
		return context.Canceled
	}

	metrics.MonitorTicks.WithLabelValues(s.topic, metrics.ResultOK).Inc()

	if sent > 0 {
		log.WithFields(log.Fields{"topic": s.topic, "sent": sent}).Debug("broadcast")
	} else {
		log.WithField("topic", s.topic).Debug("no connections for topic")
	}

	return nil
}

// collect calls the source's data function and stamps the result with
// the current time. A panic in the data function is returned as an error.
func (m *Manager) collect(s *source) (data hub.Data, err error) {

	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("data function for %s panicked: %v", s.topic, r)
		}
	}()

	d, err := s.fn()
	if err != nil {
		return nil, fmt.Errorf("collecting %s: %w", s.topic, err)
	}

	data = d.Copy()
	data["timestamp"] = m.clock.Now().Format(TimestampFormat)

	return data, nil
}

// sleep waits for d, returning false if ctx is cancelled first
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {

	if d <= 0 {
		return ctx.Err() == nil
	}

	t := m.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return ctx.Err() == nil
	}
}

func (m *Manager) isDelivered(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[topic]
}

func (m *Manager) setDelivered(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[topic] = true
}

func (s *source) oneShot() bool {
	return s.interval <= OneShot
}

// running must be called with the Manager's lock held
func (s *source) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func describe(interval time.Duration) string {
	if interval <= OneShot {
		return "once"
	}
	return interval.String()
}
