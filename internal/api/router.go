// Package api assembles the HTTP surface: control endpoints, ledger queries,
// job history and the status websocket.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/api/handlers"
	"github.com/dvloznov/mail-ledger/internal/api/middleware"
)

// Handlers groups the endpoint handlers the router dispatches to.
type Handlers struct {
	Control *handlers.ControlHandler
	Ledger  *handlers.LedgerHandler
	Jobs    *handlers.JobsHandler
	// Status serves /ws; nil disables the websocket.
	Status http.Handler
}

// NewRouter wires the routes and wraps them in the middleware chain. token
// guards every route except /health; empty disables auth.
func NewRouter(h Handlers, token string, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", method(http.MethodGet, h.Control.GetStatus))
	mux.HandleFunc("/api/start", method(http.MethodPost, h.Control.Start))
	mux.HandleFunc("/api/stop", method(http.MethodPost, h.Control.Stop))
	mux.HandleFunc("/api/configure", method(http.MethodPost, h.Control.Configure))
	mux.HandleFunc("/api/summarize-range", method(http.MethodPost, h.Control.SummarizeRange))

	mux.HandleFunc("/api/transactions", method(http.MethodGet, h.Ledger.ListTransactions))
	mux.HandleFunc("/api/summaries", method(http.MethodGet, h.Ledger.ListSummaries))

	mux.HandleFunc("/api/jobs", method(http.MethodGet, h.Jobs.ListJobs))
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	})

	if h.Status != nil {
		mux.Handle("/ws", h.Status)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(token)(mux),
				),
			),
		),
	)
}

func method(want string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != want {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fn(w, r)
	}
}
