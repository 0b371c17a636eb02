package monitor

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/junction.report/internal/httputil"
	"github.com/banshee-data/junction.report/internal/monitoring"
)

// handleDemandChart renders a line chart (HTML) of per-phase demand at
// recent transitions using go-echarts. Debugging-only endpoint for eyeballing
// the scheduler without a frontend.
// Query params:
//   - limit (optional; default 100, max 500) number of transitions to plot
func (ws *WebServer) handleDemandChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.store == nil {
		httputil.NotFound(w, "no event log configured")
		return
	}

	limit := 100
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
	if len(records) == 0 {
		httputil.NotFound(w, "no transitions logged yet")
		return
	}

	// RecentTransitions is newest-first; plot oldest-first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	phases := map[string]bool{}
	for _, rec := range records {
		for phase := range rec.Demand {
			phases[phase] = true
		}
	}
	phaseIDs := make([]string, 0, len(phases))
	for phase := range phases {
		phaseIDs = append(phaseIDs, phase)
	}
	sort.Strings(phaseIDs)

	xAxis := make([]string, len(records))
	series := make(map[string][]opts.LineData, len(phaseIDs))
	for i, rec := range records {
		xAxis[i] = rec.At.Format("15:04:05")
		for _, phase := range phaseIDs {
			series[phase] = append(series[phase], opts.LineData{Value: rec.Demand[phase]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Phase Demand", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Demand at transitions", Subtitle: "weighted vehicle counts per phase"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	for _, phase := range phaseIDs {
		line.AddSeries(phase, series[phase])
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		monitoring.Logf("monitor: render demand chart: %v", err)
	}
}
