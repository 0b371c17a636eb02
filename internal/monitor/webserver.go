// Package monitor exposes the controller's runtime state over HTTP: health
// and status endpoints for operations, plus a debugging chart of demand at
// recent transitions.
package monitor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/junction.report/internal/control"
	"github.com/banshee-data/junction.report/internal/eventlog"
	"github.com/banshee-data/junction.report/internal/httputil"
	"github.com/banshee-data/junction.report/internal/monitoring"
)

// WebServer handles the HTTP interface for signal state and zone counts.
type WebServer struct {
	address string
	loop    *control.Loop
	reader  control.SnapshotReader
	store   *eventlog.Store
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
// Store may be nil when no event log is configured.
type WebServerConfig struct {
	Address string
	Loop    *control.Loop
	Reader  control.SnapshotReader
	Store   *eventlog.Store
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		loop:    config.Loop,
		reader:  config.Reader,
		store:   config.Store,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/signal/status", ws.handleSignalStatus)
	mux.HandleFunc("/api/signal/transitions", ws.handleTransitions)
	mux.HandleFunc("/api/zones/counts", ws.handleZoneCounts)
	mux.HandleFunc("/debug/charts/demand", ws.handleDemandChart)

	return mux
}

// Handler returns the configured routes, for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("monitor: HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("monitor: HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor: shutdown error: %v", err)
		return ws.server.Close()
	}
	monitoring.Logf("monitor: HTTP server stopped")
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// handleSignalStatus returns the latest control loop output.
func (ws *WebServer) handleSignalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := ws.loop.Latest()
	if out == nil {
		httputil.NotFound(w, "no control output yet")
		return
	}
	httputil.WriteJSONOK(w, out)
}

// handleZoneCounts returns the latest count snapshot as seen by the
// control side, including its staleness tag.
func (ws *WebServer) handleZoneCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.reader.Read()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"zones":     snap.Zones(),
		"timestamp": snap.Timestamp(),
		"source":    snap.Source(),
	})
}

// handleTransitions returns recent phase transitions from the event log.
// Query params: limit (optional, default 50, max 500).
func (ws *WebServer) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.store == nil {
		httputil.NotFound(w, "no event log configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	records, err := ws.store.RecentTransitions(limit)
	if err != nil {
		httputil.InternalServerError(w, "query transitions: "+err.Error())
		return
	}
	if records == nil {
		records = []eventlog.Record{}
	}
	httputil.WriteJSONOK(w, records)
}
