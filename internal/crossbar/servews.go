package crossbar

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/practable/gcs/internal/hub"
	log "github.com/sirupsen/logrus"
)

// 4096 Bytes is the approx average message size
// this number does not limit message size
// null subprotocol required by Chrome
// TODO restrict CheckOrigin once the dashboard is served from a known host
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"null"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWs handles websocket requests from clients.
func serveWs(closed <-chan struct{}, h *hub.Hub, w http.ResponseWriter, r *http.Request) {

	topic := getTopic(r)

	log.WithFields(log.Fields{"path": r.URL.Path, "topic": topic}).Trace("websocket request")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Error("serveWs failed to upgrade to websocket")
		return
	}

	log.Trace("upgraded to ws") //Cannot return any http responses from here on

	client := newClient(closed, h, conn, r)

	if !h.Connect(client, topic) {
		client.Close()
		return
	}

	log.WithFields(log.Fields{"client": client.name, "topic": topic, "remoteAddr": client.remoteAddr}).Info("client connected")
}
