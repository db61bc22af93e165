package monitor

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pax.report/internal/db"
	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/version"
)

// handleAPIStatus returns the live engine snapshot plus process
// identity as JSON.
func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var live pax.LiveStatus
	counting := false
	if ws.board != nil {
		live, counting = ws.board.Status()
	}

	type journalStats struct {
		RunID   string `json:"run_id"`
		Written uint64 `json:"written"`
		Dropped uint64 `json:"dropped"`
	}
	resp := struct {
		Service       string         `json:"service"`
		Version       string         `json:"version"`
		UptimeSeconds int64          `json:"uptime_seconds"`
		Counting      bool           `json:"counting"`
		Live          pax.LiveStatus `json:"live"`
		Journal       *journalStats  `json:"journal,omitempty"`
	}{
		Service:       "pax",
		Version:       version.String(),
		UptimeSeconds: int64(time.Since(ws.startedAt).Seconds()),
		Counting:      counting,
		Live:          live,
	}
	if ws.journal != nil {
		resp.Journal = &journalStats{
			RunID:   ws.journal.RunID(),
			Written: ws.journal.Written(),
			Dropped: ws.journal.Dropped(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleAPIReports returns journal rows as JSON.
// Query params:
//
//	limit (optional, default 100, max 1000)
//	since (optional, unix seconds; rows whose epoch ended at or after)
func (ws *WebServer) handleAPIReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no journal configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	var (
		rows []db.StoredReport
		err  error
	)
	if s := r.URL.Query().Get("since"); s != "" {
		sinceUnix, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			ws.writeJSONError(w, http.StatusBadRequest, "bad 'since' parameter")
			return
		}
		rows, err = ws.journal.ReportsSince(time.Unix(sinceUnix, 0), limit)
	} else {
		rows, err = ws.journal.LatestReports(limit)
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query reports: %v", err))
		return
	}
	if rows == nil {
		rows = []db.StoredReport{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// attachDebugRoutes registers the SSE report tail on the debug mux.
func (ws *WebServer) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to issue Server-Side Events (SSE) carrying each
	// finalized report as it is published.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := ws.Subscribe()
		defer ws.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

// Publish broadcasts a finalized report to all SSE subscribers. It
// never blocks; a subscriber that cannot keep up misses the report.
func (ws *WebServer) Publish(report pax.Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		monitoring.Logf("monitor: marshal report: %v", err)
		return
	}

	ws.subscriberMu.Lock()
	for _, ch := range ws.subscribers {
		select {
		case ch <- string(payload):
		default:
			// if the channel is full/blocking skip so as not to block the outer loop
		}
	}
	ws.subscriberMu.Unlock()
}

// Subscribe creates a new channel receiving JSON-encoded reports.
func (ws *WebServer) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 4)
	ws.subscriberMu.Lock()
	defer ws.subscriberMu.Unlock()
	ws.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (ws *WebServer) Unsubscribe(id string) {
	ws.subscriberMu.Lock()
	defer ws.subscriberMu.Unlock()
	if ch, ok := ws.subscribers[id]; ok {
		close(ch)
		delete(ws.subscribers, id)
	}
}

func (ws *WebServer) closeSubscribers() {
	ws.subscriberMu.Lock()
	defer ws.subscriberMu.Unlock()
	for id, ch := range ws.subscribers {
		close(ch)
		delete(ws.subscribers, id)
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}
