package monitor

import (
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pax.report/internal/db"
)

// handleCountsPlot renders the per-epoch counts as a PNG time series,
// for embedding in places that cannot run the echarts page (wikis,
// chat previews, report emails).
// Query params:
//   - limit (optional; default 120 epochs)
func (ws *WebServer) handleCountsPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no journal configured")
		return
	}

	limit := 120
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	rows, err := ws.journal.LatestReports(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query reports: %v", err))
		return
	}
	if len(rows) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no reports recorded yet")
		return
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	p := plot.New()
	p.Title.Text = "Unique Devices per Epoch"
	p.X.Label.Text = "Epoch end"
	p.Y.Label.Text = "Devices"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}

	series := []struct {
		name  string
		color color.Color
		value func(row db.StoredReport) float64
	}{
		{"wifi", color.RGBA{R: 31, G: 119, B: 180, A: 255}, func(row db.StoredReport) float64 { return float64(row.Counts.Wifi) }},
		{"ble", color.RGBA{R: 255, G: 127, B: 14, A: 255}, func(row db.StoredReport) float64 { return float64(row.Counts.BLE) }},
		{"proximity", color.RGBA{R: 44, G: 160, B: 44, A: 255}, func(row db.StoredReport) float64 { return float64(row.Counts.Proximity) }},
	}

	for _, s := range series {
		pts := make(plotter.XYs, 0, len(rows))
		for _, row := range rows {
			pts = append(pts, plotter.XY{X: float64(row.End.Unix()), Y: s.value(row)})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build series %s: %v", s.name, err))
			return
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		return
	}
}
