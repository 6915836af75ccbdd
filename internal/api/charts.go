package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/httputil"
)

// near-to-far palette; close objects are the warm end
var distancePalette = []string{"#b40426", "#f4987a", "#dddcdc", "#8db0fe", "#3b4cc0"}

// heatmapData builds the chart cells for a normalised frame. Row 0 is drawn
// at the top, so y runs from the last row upwards. Unusable cells carry
// "-" which ECharts leaves blank.
func heatmapData(res heatmap.EvaluationResult, owner func(row, col int) (int, bool)) []opts.HeatMapData {
	shape := res.Shape
	data := make([]opts.HeatMapData, 0, shape.Cells())
	for row := 0; row < shape.Rows; row++ {
		for col := 0; col < shape.Cols; col++ {
			idx := shape.Idx(row, col)
			var v interface{} = res.Distances[idx]
			if !res.States[idx].Usable() {
				v = "-"
			}
			name := ""
			if roi, ok := owner(row, col); ok {
				name = fmt.Sprintf("Target %d", roi+1)
			}
			data = append(data, opts.HeatMapData{Name: name, Value: [3]interface{}{col, shape.Rows - 1 - row, v}})
		}
	}
	return data
}

func axisLabels(n int, reverse bool) []string {
	out := make([]string, n)
	for i := range out {
		v := i
		if reverse {
			v = n - 1 - i
		}
		out[i] = strconv.Itoa(v)
	}
	return out
}

// heatmapChart renders the latest normalised grid as an HTML ECharts heatmap.
func (s *Server) heatmapChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.svc.Latest()
	if !ok {
		httputil.NotFound(w, "no frame evaluated yet")
		return
	}
	res := snap.Result
	e := s.svc.Engine()
	global, _ := e.Thresholds()

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "ToF Heatmap", Width: "720px", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "ToF Heatmap",
			Subtitle: fmt.Sprintf("frame=%d presence=%t global=%dmm at=%s", res.Seq, res.GlobalPresence, global, snap.At.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "col", Data: axisLabels(res.Shape.Cols, false), SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "row", Data: axisLabels(res.Shape.Rows, true), SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(e.MaxRangeMM()),
			InRange:    &opts.VisualMapInRange{Color: distancePalette},
		}),
	)
	hm.AddSeries("distance_mm", heatmapData(res, e.CellOwner),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}),
	)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render heatmap chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
