// Package hub keeps track of connected clients and the topics they
// subscribe to, and fans out messages to each topic's subscribers.
package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/practable/gcs/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// New returns a pointer to an initialised Hub
func New() *Hub {
	return &Hub{
		mu:          &sync.RWMutex{},
		connections: make(map[Conn]bool),
		topics:      make(map[string]map[Conn]bool),
		stats:       NewStats(clockwork.NewRealClock()),
	}
}

// WithClock sets the clock used to time broadcasts
func (h *Hub) WithClock(clock clockwork.Clock) *Hub {
	h.stats.mu.Lock()
	h.stats.clock = clock
	h.stats.mu.Unlock()
	return h
}

// Connect accepts conn, adds it to the hub, and subscribes it to topic
// if topic is not empty. It returns false, leaving the hub unchanged,
// if the connection could not be accepted. Connecting a connection
// the hub already holds does not accept it a second time. A connection
// that closes while being accepted is not added.
func (h *Hub) Connect(conn Conn, topic string) bool {

	h.mu.RLock()
	known := h.connections[conn]
	h.mu.RUnlock()

	if !known {
		if err := conn.Accept(); err != nil {
			log.WithField("error", err.Error()).Error("error accepting connection")
			return false
		}
	}

	h.mu.Lock()
	select {
	case <-conn.Done():
		h.mu.Unlock()
		log.Warn("connection closed before it could be added")
		return false
	default:
	}
	h.connections[conn] = true
	count := len(h.connections)
	h.mu.Unlock()

	metrics.Connections.Set(float64(count))

	if topic != "" {
		h.Subscribe(conn, topic)
	}

	log.WithField("connections", count).Info("connected")

	return true
}

// Disconnect removes conn from the hub and from every topic,
// deleting any topic left without subscribers, then closes conn.
// It is safe to call more than once.
func (h *Hub) Disconnect(conn Conn) {

	h.mu.Lock()

	delete(h.connections, conn)

	for topic, subscribers := range h.topics {
		delete(subscribers, conn)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}

	count := len(h.connections)

	h.mu.Unlock()

	conn.Close()

	metrics.Connections.Set(float64(count))

	log.WithField("connections", count).Info("disconnected")
}

// Subscribe adds conn to the subscribers of topic. It fails only if
// the connection is already closed, or the topic is empty.
func (h *Hub) Subscribe(conn Conn, topic string) bool {

	if topic == "" {
		log.Warn("cannot subscribe to empty topic")
		return false
	}

	select {
	case <-conn.Done():
		log.WithField("topic", topic).Warn("cannot subscribe closed connection")
		return false
	default:
	}

	h.mu.Lock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[Conn]bool)
	}
	h.topics[topic][conn] = true
	h.mu.Unlock()

	log.WithField("topic", topic).Debug("subscribed")

	return true
}

// Unsubscribe removes conn from the subscribers of topic,
// deleting the topic if it has no subscribers left.
func (h *Hub) Unsubscribe(conn Conn, topic string) {

	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.topics[topic]
	if !ok {
		return
	}

	delete(subscribers, conn)

	if len(subscribers) == 0 {
		delete(h.topics, topic)
	}

	log.WithField("topic", topic).Debug("unsubscribed")
}

// Broadcast sends data to every subscriber of topic, returning how many
// connections it was delivered to. Connections that fail to receive it
// are disconnected once the broadcast has finished. If ctx is cancelled
// part way through, the remaining subscribers are skipped.
func (h *Hub) Broadcast(ctx context.Context, topic string, data Data) int {

	h.mu.RLock()
	subscribers := make([]Conn, 0, len(h.topics[topic]))
	for conn := range h.topics[topic] {
		subscribers = append(subscribers, conn)
	}
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		log.WithField("topic", topic).Debug("no subscribers")
		return 0
	}

	sent := h.send(ctx, topic, data, subscribers)

	log.WithFields(log.Fields{"topic": topic, "sent": sent}).Debug("broadcast")

	return sent
}

// BroadcastToAll sends data to every connection, regardless of
// subscriptions, under the topic AllTopic.
func (h *Hub) BroadcastToAll(ctx context.Context, data Data) int {

	h.mu.RLock()
	connections := make([]Conn, 0, len(h.connections))
	for conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.RUnlock()

	if len(connections) == 0 {
		log.Debug("no connections")
		return 0
	}

	sent := h.send(ctx, AllTopic, data, connections)

	log.WithField("sent", sent).Debug("broadcast to all")

	return sent
}

// SendTo sends a single message to conn. A failed send is reported
// but the connection is left in place.
func (h *Hub) SendTo(ctx context.Context, conn Conn, topic string, data Data) bool {

	frame, err := Message{Topic: topic, Data: data}.Marshal()
	if err != nil {
		log.WithFields(log.Fields{"topic": topic, "error": err.Error()}).Error("cannot marshal message")
		return false
	}

	if err := conn.Send(ctx, frame); err != nil {
		log.WithFields(log.Fields{"topic": topic, "error": err.Error()}).Error("error sending message")
		return false
	}

	return true
}

// send delivers one envelope to each of conns, then disconnects those that failed
func (h *Hub) send(ctx context.Context, topic string, data Data, conns []Conn) int {

	frame, err := Message{Topic: topic, Data: data}.Marshal()
	if err != nil {
		log.WithFields(log.Fields{"topic": topic, "error": err.Error()}).Error("cannot marshal message")
		return 0
	}

	var failed []Conn

	sent := 0

	for _, conn := range conns {

		if ctx.Err() != nil {
			log.WithField("topic", topic).Debug("broadcast cancelled")
			break
		}

		if err := conn.Send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				log.WithField("topic", topic).Debug("broadcast cancelled")
				break
			}
			log.WithFields(log.Fields{"topic": topic, "error": err.Error()}).Warn("error broadcasting to connection")
			failed = append(failed, conn)
			continue
		}

		sent++
	}

	for _, conn := range failed {
		h.Disconnect(conn)
	}

	h.stats.record(len(conns), len(frame), sent, len(failed))

	metrics.BroadcastsTotal.WithLabelValues(topic).Inc()
	metrics.DeliveriesTotal.WithLabelValues(topic).Add(float64(sent))
	metrics.PrunedTotal.Add(float64(len(failed)))

	return sent
}

// ConnectionCount returns the number of connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// TopicSubscriberCount returns the number of subscribers to topic
func (h *Hub) TopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics returns the names of all topics with subscribers, sorted
func (h *Hub) Topics() []string {
	h.mu.RLock()
	topics := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		topics = append(topics, topic)
	}
	h.mu.RUnlock()

	sort.Strings(topics)

	return topics
}

// Stats returns a report of connections, subscriptions and broadcast statistics
func (h *Hub) Stats() Report {

	h.mu.RLock()
	r := Report{
		Connections: len(h.connections),
		Topics:      make(map[string]int),
	}
	for topic, subscribers := range h.topics {
		r.Topics[topic] = len(subscribers)
	}
	h.mu.RUnlock()

	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()

	r.Broadcasts = h.stats.Broadcasts
	r.Deliveries = h.stats.Deliveries
	r.Pruned = h.stats.Pruned
	r.Audience = NewWelford(h.stats.Audience)
	r.Bytes = NewWelford(h.stats.Bytes)
	r.Dt = NewWelford(h.stats.Dt)

	if h.stats.Last.IsZero() {
		r.Last = "Never"
	} else {
		r.Last = h.stats.Last.String()
	}

	return r
}
