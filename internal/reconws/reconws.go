/*
   reconws is a dashboard websocket client that automatically reconnects
   Copyright (C) 2019 Timothy Drysdale <timothy.d.drysdale@gmail.com>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package reconws

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/practable/gcs/internal/hub"
	log "github.com/sirupsen/logrus"
)

// WsMessage represents a websocket message
type WsMessage struct {
	Data []byte
	Type int
}

// ReconWs represents a websocket client that will reconnect if the connection is closed
// connects (retrying/reconnecting if necessary) to websocket server at url
type ReconWs struct {
	Connected       chan struct{} // allow notification of successful connection, helps with testing
	ConnectedAt     time.Time
	ForwardIncoming bool
	In              chan WsMessage
	Out             chan WsMessage
	Retry           RetryConfig

	// Topics are subscribed to each time a connection is made
	Topics []string

	ID string
}

// RetryConfig represents the parameters for when to retry to connect
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration
}

// New returns a pointer to a new reconnecting websocket client ReconWs
func New() *ReconWs {
	r := &ReconWs{
		Connected: make(chan struct{}),
		// don't initialise connectedAt; set when connected
		In:              make(chan WsMessage),
		Out:             make(chan WsMessage),
		ForwardIncoming: true,
		Retry: RetryConfig{Factor: 2,
			Min:    1 * time.Second,
			Max:    10 * time.Second,
			Jitter: false},
		ID: uuid.New().String()[0:6],
	}
	return r
}

// Reconnect dials url, and dials again with increasing delay each time
// the connection fails or closes, until ctx is cancelled.
// Run it in a separate goroutine.
func (r *ReconWs) Reconnect(ctx context.Context, url string) {

	id := "reconws.Reconnect(" + r.ID + ")"

	boff := &backoff.Backoff{
		Min:    r.Retry.Min,
		Max:    r.Retry.Max,
		Factor: r.Retry.Factor,
		Jitter: r.Retry.Jitter,
	}

	for {

		dialCtx, cancel := context.WithCancel(ctx)

		err := r.Dial(dialCtx, url)
		cancel()

		if err == nil {
			boff.Reset()
			log.Tracef("%s: dial finished successfully, resetting timeout to zero", id)
		} else {
			log.WithField("error", err).Tracef("%s: Dial finished with error, increasing timeout", id)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(boff.Duration()):
		}
	}
}

// Subscribe asks the server to send messages for topic on the current connection
func (r *ReconWs) Subscribe(ctx context.Context, topic string) error {
	return r.request(ctx, hub.Request{Action: hub.ActionSubscribe, Topic: topic})
}

// Unsubscribe asks the server to stop sending messages for topic
func (r *ReconWs) Unsubscribe(ctx context.Context, topic string) error {
	return r.request(ctx, hub.Request{Action: hub.ActionUnsubscribe, Topic: topic})
}

// Ping asks the server for a pong message
func (r *ReconWs) Ping(ctx context.Context) error {
	return r.request(ctx, hub.Request{Action: hub.ActionPing})
}

func (r *ReconWs) request(ctx context.Context, req hub.Request) error {

	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	select {
	case r.Out <- WsMessage{Data: b, Type: websocket.TextMessage}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dial the websocket server once.
// If dial fails then return immediately
// If dial succeeds then subscribe to Topics and handle message traffic until
// the context is cancelled or the connection closes
func (r *ReconWs) Dial(ctx context.Context, urlStr string) error {

	id := "reconws.Dial(" + r.ID + ")"

	var err error

	if urlStr == "" {
		log.Errorf("%s: Can't dial an empty Url", id)
		return errors.New("Can't dial an empty Url")
	}

	// parse to check, dial with original string
	u, err := url.Parse(urlStr)

	if err != nil {
		log.Errorf("%s: error with url because %s:", id, err.Error())
		return err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		log.Errorf("%s: Url needs to start with ws or wss", id)
		return errors.New("Url needs to start with ws or wss")
	}

	if u.User != nil {
		log.Errorf("%s: Url can't contain user name and password", id)
		return errors.New("Url can't contain user name and password")
	}

	// start dialing ....

	log.WithField("To", u).Tracef("%s: connecting to %s", id, u)

	//assume our context has been given a deadline if needed
	c, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)

	if err != nil {
		log.WithField("error", err).Errorf("%s: dialing error because %s", id, err.Error())
		return err
	}

	for _, topic := range r.Topics {
		b, err := json.Marshal(hub.Request{Action: hub.ActionSubscribe, Topic: topic})
		if err == nil {
			err = c.WriteMessage(websocket.TextMessage, b)
		}
		if err != nil {
			log.WithField("error", err).Errorf("%s: error subscribing to %s", id, topic)
			c.Close()
			return err
		}
	}

	r.ConnectedAt = time.Now()
	close(r.Connected) //signal that we've connected
	defer func() {
		r.Connected = make(chan struct{}) //reset for next time
	}()

	log.WithField("To", u).Tracef("%s: connected to %s", id, u)

	// handle our reading tasks

	readClosed := make(chan struct{})

	go func() {
		defer close(readClosed)
		for {
			mt, data, err := c.ReadMessage()

			// Check for errors, e.g. caused by writing task closing conn
			// because we've been instructed to exit
			// log as info since we expect an error here on a normal exit
			if err != nil {
				log.WithField("error", err).Infof("%s: error reading from conn; closing", id)
				return
			}

			if !r.ForwardIncoming {
				log.Tracef("%s: ignored %d-byte message", id, len(data))
				continue
			}

			select {
			case r.In <- WsMessage{Data: data, Type: mt}:
				log.Tracef("%s: received %d-byte message", id, len(data))
			case <-ctx.Done():
				return
			}
		}
	}()

	// handle our writing tasks
LOOPWRITING:
	for {
		select {
		case <-readClosed:
			err = nil // nil error resets the backoff
			break LOOPWRITING
		case msg := <-r.Out:

			err := c.WriteMessage(msg.Type, msg.Data)
			if err != nil {
				log.WithField("error", err).Infof("%s: error writing to conn; closing", id)
				break LOOPWRITING
			}
			log.Tracef("%s: sent %d-byte message", id, len(msg.Data))

		case <-ctx.Done(): // context has finished, either timeout or cancel
			// Cleanly close the connection by sending a close message
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithField("error", err).Infof("%s: error sending close message; closing", id)
			} else {
				log.Infof("%s: connection closed", id)
			}
			break LOOPWRITING
		}
	}

	c.Close()
	<-readClosed

	log.Tracef("%s: done", id)
	return err

}
