package http

import (
	"net/http"

	"github.com/aukilabs/bygg/lifecycle"
)

const (
	StatusOK       = "ok"
	StatusStarting = "starting"
	StatusDesynced = "desynced"
)

// Status is the body of the health and readiness responses.
type Status struct {
	Status           string `json:"status"`
	Version          string `json:"version,omitempty"`
	Objects          int    `json:"objects"`
	IndexedObjects   int    `json:"indexed_objects"`
	OpenTransactions int    `json:"open_transactions"`
}

// HandleHealthCheck responds ok as long as the process serves requests.
func HandleHealthCheck(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{
			Status:  StatusOK,
			Version: version,
		})
	}
}

// HandleReadyCheck responds 200 once started returns true and every object
// of the engine is indexed, 503 otherwise.
func HandleReadyCheck(e *lifecycle.Engine, started func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := e.Stats()
		s := Status{
			Status:           StatusOK,
			Objects:          stats.Objects,
			IndexedObjects:   stats.Conflicts.Objects,
			OpenTransactions: stats.Transactions,
		}

		switch {
		case !started():
			s.Status = StatusStarting
		case s.Objects != s.IndexedObjects:
			s.Status = StatusDesynced
		}

		status := http.StatusOK
		if s.Status != StatusOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, s)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithCORS allows cross origin GET requests on the given handler.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
