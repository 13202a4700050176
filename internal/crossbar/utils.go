package crossbar

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// getTopic takes the topic from the path (/ws/{topic}), else from
// the topic query parameter, else returns ""
func getTopic(r *http.Request) string {

	if topic := slashify(mux.Vars(r)["topic"]); topic != "" {
		return topic
	}

	return slashify(r.URL.Query().Get("topic"))
}

// slashify removes leading and trailing slashes
func slashify(path string) string {
	return strings.Trim(path, "/")
}
