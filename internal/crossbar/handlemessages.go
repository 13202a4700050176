package crossbar

import (
	"context"
	"encoding/json"

	"github.com/practable/gcs/internal/hub"
	log "github.com/sirupsen/logrus"
)

// handleRequest acts on a request sent by the client.
// Requests that cannot be understood are logged and ignored.
func (c *Client) handleRequest(data []byte) {

	var req hub.Request

	if err := json.Unmarshal(data, &req); err != nil {
		log.WithFields(log.Fields{"client": c.name, "error": err.Error()}).Warn("ignoring malformed request")
		return
	}

	switch req.Action {

	case hub.ActionSubscribe:
		if c.hub.Subscribe(c, req.Topic) {
			log.WithFields(log.Fields{"client": c.name, "topic": req.Topic}).Info("client subscribed")
		}

	case hub.ActionUnsubscribe:
		c.hub.Unsubscribe(c, req.Topic)
		log.WithFields(log.Fields{"client": c.name, "topic": req.Topic}).Info("client unsubscribed")

	case hub.ActionPing:
		c.hub.SendTo(context.Background(), c, hub.PongTopic, hub.Data{"status": "ok"})

	default:
		log.WithFields(log.Fields{"client": c.name, "action": req.Action}).Warn("ignoring unknown request")
	}
}
