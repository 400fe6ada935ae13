package http

import (
	"net/http"

	"github.com/aukilabs/bygg/lifecycle"
	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

// HandleStats responds with a snapshot of the engine statistics.
func HandleStats(e *lifecycle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Stats())
	}
}

// HandleConflicts responds with the active conflicts. The object_id query
// parameter narrows them to the conflicts of an object, severity to a
// severity and resolved=true lists the resolved conflicts instead.
func HandleConflicts(e *lifecycle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		conflicts := e.Conflicts()

		var reports []*models.ConflictReport
		switch {
		case q.Get("resolved") == "true":
			reports = conflicts.ResolvedConflicts()

		case q.Get("object_id") != "":
			id, err := models.ParseID(q.Get("object_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid object id").Wrap(err))
				return
			}
			reports = conflicts.ConflictsFor(id)

		default:
			reports = conflicts.ActiveConflicts()
		}

		if severity := models.ConflictSeverity(q.Get("severity")); severity != "" {
			filtered := reports[:0]
			for _, c := range reports {
				if c.Severity == severity {
					filtered = append(filtered, c)
				}
			}
			reports = filtered
		}

		if reports == nil {
			reports = []*models.ConflictReport{}
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logs.WithTag("status", status).Debug(err.Error())
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
