package server

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

//go:embed web/dashboard.html
var webFS embed.FS

var dashboardTmpl = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"cell":    formatCell,
	"percent": percentOf,
	"float":   func(n int64) float64 { return float64(n) },
	"hour":    func(h int) string { return time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15:04") },
}).ParseFS(webFS, "web/dashboard.html"))

// dashboardSampleRows caps the rows rendered into the page.
const dashboardSampleRows = 200

type dashboardData struct {
	Mode        string
	Columns     []string
	Sample      []model.SampleRow
	SampleTotal int
	Summary     []model.HourlySummary
	MaxDistance float64
	MaxAmount   float64
	MaxTrips    float64
	HasData     bool
	Error       string
	LoadedAt    time.Time
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	sample, hasSample, err := s.artifacts.Sample()
	summary, hasSummary, _ := s.artifacts.Summary()

	data := dashboardData{
		Mode:        s.opts.Mode,
		Columns:     schema.Trips().Names(),
		SampleTotal: len(sample),
		Summary:     summary,
		HasData:     hasSample && hasSummary,
		LoadedAt:    s.artifacts.LoadedAt(),
	}
	if err != nil {
		data.Error = err.Error()
		data.HasData = false
	}
	if len(sample) > dashboardSampleRows {
		sample = sample[:dashboardSampleRows]
	}
	data.Sample = sample
	for _, h := range summary {
		if h.AvgDistance > data.MaxDistance {
			data.MaxDistance = h.AvgDistance
		}
		if h.AvgAmount > data.MaxAmount {
			data.MaxAmount = h.AvgAmount
		}
		if float64(h.TotalTrips) > data.MaxTrips {
			data.MaxTrips = float64(h.TotalTrips)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render dashboard", "error", err)
	}
}

// formatCell renders one sample value. Timestamp columns hold epoch
// milliseconds.
func formatCell(row model.SampleRow, name string) string {
	v, ok := row.Get(name)
	if !ok || v == nil {
		return "-"
	}
	col, _ := schema.Trips().Lookup(name)
	if col.Type == schema.TypeTimestamp {
		if ms, ok := epochMillis(v); ok {
			return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
		}
	}
	return toString(v)
}

func percentOf(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v * 100 / max
}

func epochMillis(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toString(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', 2, 64)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
		return n.String()
	default:
		return fmt.Sprint(v)
	}
}
