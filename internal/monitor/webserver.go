package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/pax.report/internal/db"
	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for monitoring the sensor.
// It serves a status page, JSON APIs, chart renderings, and the
// debug surface (including an SSE tail of finalized reports).
type WebServer struct {
	address   string
	board     *Board
	journal   *db.Journal
	database  *db.DB
	startedAt time.Time
	server    *http.Server

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address string
	Board   *Board
	Journal *db.Journal
	DB      *db.DB
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:     config.Address,
		board:       config.Board,
		journal:     config.Journal,
		database:    config.DB,
		startedAt:   time.Now(),
		subscribers: make(map[string]chan string),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		monitoring.Logf("monitor: serving on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The sensor keeps counting even if the monitor port is taken.
			monitoring.Logf("monitor: server error: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	monitoring.Logf("monitor: shutting down HTTP server")

	ws.closeSubscribers()

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor: HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("monitor: HTTP server force close error: %v", err)
		}
	}

	monitoring.Logf("monitor: HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/reports", ws.handleAPIReports)
	mux.HandleFunc("/charts/counts", ws.handleCountsChart)
	mux.HandleFunc("/charts/counts.png", ws.handleCountsPlot)

	if ws.database != nil {
		ws.database.AttachAdminRoutes(mux)
	}
	ws.attachDebugRoutes(mux)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "pax", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var live pax.LiveStatus
	counting := false
	if ws.board != nil {
		live, counting = ws.board.Status()
	}

	runID := ""
	if ws.journal != nil {
		runID = ws.journal.RunID()
	}

	// Template data
	data := struct {
		Version     string
		HTTPAddress string
		RunID       string
		Uptime      string
		Counting    bool
		Live        pax.LiveStatus
		Total       uint32
	}{
		Version:     version.String(),
		HTTPAddress: ws.address,
		RunID:       runID,
		Uptime:      time.Since(ws.startedAt).Round(time.Second).String(),
		Counting:    counting,
		Live:        live,
		Total:       live.Counts.Total(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
