package destination

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Response reports the outcome of a save
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleList returns the stored destinations
// curl -X GET http://localhost:8000/ground-control-station/destinations
func (s *Store) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, List{Destinations: s.List()})
}

/* HandleSave replaces the stored destinations

Example:

curl -X POST -H "Content-Type: application/json" \
-d '{"destinations":[{"name":"qgc","ip":"192.168.1.10","port":"14550","destinationEnabled":true,"telemetryEnabled":true}]}' \
http://localhost:8000/ground-control-station/destinations

*/
func (s *Store) HandleSave(w http.ResponseWriter, r *http.Request) {

	b, err := io.ReadAll(r.Body)

	defer r.Body.Close()

	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
		return
	}

	var l List

	if err := json.Unmarshal(b, &l); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
		return
	}

	err = s.Save(l)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Response{Status: "success"})
	case errors.Is(err, ErrInvalid):
		log.WithField("error", err.Error()).Info("rejected destinations")
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
	default:
		log.WithFields(log.Fields{"file": s.path, "error": err.Error()}).Error("failed to save destinations")
		writeJSON(w, http.StatusInternalServerError, Response{Status: "error", Message: "Failed to save destinations"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {

	output, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)

	_, err = w.Write(output)
	if err != nil {
		log.Errorf("writing error %s", err.Error())
	}
}
