// Package crossbar serves the dashboard: a websocket endpoint whose
// clients subscribe to topics held by the hub, plus a small HTTP API
package crossbar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/practable/gcs/internal/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Crossbar runs the http.Server until closed is closed
func Crossbar(config Config, closed <-chan struct{}, parentwg *sync.WaitGroup) {

	defer parentwg.Done()

	if config.HTTPWait <= 0 {
		config.HTTPWait = 5 * time.Second
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Listen),
		Handler: NewRouter(config, closed),
	}

	go func() {
		// returns ErrServerClosed on graceful close
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("http.ListenAndServe")
		}
		log.Debug("Exiting http.Server")
	}()

	log.WithField("port", config.Listen).Info("crossbar listening")

	<-closed // wait for shutdown

	log.Debug("Starting to close http.Server")

	ctx, cancel := context.WithTimeout(context.Background(), config.HTTPWait)
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(ctx); err != nil {
		log.WithField("error", err).Error("Could not gracefully shutdown http.Server")
	}

	log.Info("crossbar stopped")
}

// NewRouter returns the routes served by the crossbar. Websocket clients
// are closed when closed is closed.
func NewRouter(config Config, closed <-chan struct{}) *mux.Router {

	router := mux.NewRouter()

	ws := func(w http.ResponseWriter, r *http.Request) {
		serveWs(closed, config.Hub, w, r)
	}

	router.HandleFunc("/ws", ws)
	router.HandleFunc(`/ws/{topic:[a-zA-Z0-9_\-\/]+}`, ws)
	router.HandleFunc("/api/status", statusHandler(config)).Methods("GET")
	router.HandleFunc("/healthcheck", handleHealthcheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler())

	if config.Destinations != nil {
		router.HandleFunc("/ground-control-station/destinations", config.Destinations.HandleList).Methods("GET")
		router.HandleFunc("/ground-control-station/destinations", config.Destinations.HandleSave).Methods("POST")
	}

	return router
}

// curl -X GET http://localhost:8000/api/status
func statusHandler(config Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		status := Status{
			Hub:      config.Hub.Stats(),
			Monitors: []monitor.SourceStatus{},
		}

		if config.Monitor != nil {
			status.Monitors = config.Monitor.Status()
		}

		output, err := json.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/json")
		_, err = w.Write(output)
		if err != nil {
			log.Errorf("writing error %s", err.Error())
		}
	}
}

func handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain")
	_, err := w.Write([]byte("ok"))
	if err != nil {
		log.Errorf("writing error %s", err.Error())
	}
}
