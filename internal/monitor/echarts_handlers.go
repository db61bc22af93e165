package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix is where the rendered chart pages load the
// echarts runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleCountsChart renders a line chart (HTML) of per-epoch unique
// device counts pulled from the report journal using go-echarts.
// Query params:
//   - limit (optional; default 120 epochs) to widen or narrow the window
func (ws *WebServer) handleCountsChart(w http.ResponseWriter, r *http.Request) {
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

	// LatestReports is newest first; the chart reads left to right.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	x := make([]string, 0, len(rows))
	wifi := make([]opts.LineData, 0, len(rows))
	ble := make([]opts.LineData, 0, len(rows))
	proximity := make([]opts.LineData, 0, len(rows))
	total := make([]opts.LineData, 0, len(rows))
	for _, row := range rows {
		x = append(x, row.End.Format("15:04"))
		wifi = append(wifi, opts.LineData{Value: row.Counts.Wifi})
		ble = append(ble, opts.LineData{Value: row.Counts.BLE})
		proximity = append(proximity, opts.LineData{Value: row.Counts.Proximity})
		total = append(total, opts.LineData{Value: row.Counts.Total()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pax Counts", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Unique Devices per Epoch", Subtitle: fmt.Sprintf("epochs=%d newest=%s", len(rows), rows[len(rows)-1].End.UTC().Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	line.SetXAxis(x).
		AddSeries("total", total, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("wifi", wifi, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("ble", ble, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("proximity", proximity, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
