// Package api serves the presence engine over HTTP: JSON endpoints for
// status, thresholds, regions and orientation, plus an HTML heatmap chart.
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultEventLimit = 100

// Store persists ROI geometry and serves the event log. *db.DB implements it.
type Store interface {
	SnapshotFrom(e *heatmap.Engine) error
	RecentEvents(limit int) ([]db.EventRecord, error)
}

type Server struct {
	svc   *presence.Service
	m     serialmux.SerialMuxInterface
	store Store
}

// NewServer returns a server for svc. m and store may be nil: commands are
// then refused and changes are kept in memory only.
func NewServer(svc *presence.Service, m serialmux.SerialMuxInterface, store Store) *Server {
	return &Server{svc: svc, m: m, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/api/roi", s.listROIs)
	mux.HandleFunc("/api/roi/toggle", s.toggleCell)
	mux.HandleFunc("/api/roi/clear", s.clearROI)
	mux.HandleFunc("/api/orientation", s.handleOrientation)
	mux.HandleFunc("/api/shape", s.setShape)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/components", s.listComponents)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/charts/heatmap", s.heatmapChart)
	return mux
}

// writeEngineError maps engine argument errors to 400 and anything else to 500.
func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, heatmap.ErrInvalidArgument) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

// persist stores the engine's geometry. It reports false after writing a
// 500 response.
func (s *Server) persist(w http.ResponseWriter) bool {
	if s.store == nil {
		return true
	}
	if err := s.store.SnapshotFrom(s.svc.Engine()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to persist configuration: %v", err))
		return false
	}
	return true
}

type thresholdsResponse struct {
	GlobalMM int   `json:"global_mm"`
	ROIMM    []int `json:"roi_mm"`
}

func (s *Server) thresholds() thresholdsResponse {
	global, rois := s.svc.Engine().Thresholds()
	return thresholdsResponse{GlobalMM: global, ROIMM: rois}
}

type statusResponse struct {
	Version     version.Info        `json:"version"`
	Shape       heatmap.Shape       `json:"shape"`
	Orientation heatmap.Orientation `json:"orientation"`
	MaxRangeMM  int                 `json:"max_range_mm"`
	Thresholds  thresholdsResponse  `json:"thresholds"`
	ROIAlerting []bool              `json:"roi_alerting"`
	Presence    bool                `json:"presence"`
	Counters    heatmap.Counters    `json:"counters"`
	Lines       presence.Stats      `json:"lines"`
	Serial      *serialmux.Stats    `json:"serial,omitempty"`
	Latest      *presence.Snapshot  `json:"latest,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	e := s.svc.Engine()
	resp := statusResponse{
		Version:     version.Current(),
		Shape:       e.Shape(),
		Orientation: e.Orientation(),
		MaxRangeMM:  e.MaxRangeMM(),
		Thresholds:  s.thresholds(),
		ROIAlerting: e.ROIAlerting(),
		Presence:    e.GlobalPresence(),
		Counters:    e.Counters(),
		Lines:       s.svc.Stats(),
	}
	if s.m != nil {
		st := s.m.Stats()
		resp.Serial = &st
	}
	if snap, ok := s.svc.Latest(); ok {
		resp.Latest = &snap
	}
	httputil.WriteJSONOK(w, resp)
}

type thresholdRequest struct {
	Scope   string `json:"scope"`
	ROI     int    `json:"roi"`
	ValueMM *int   `json:"value_mm"`
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.thresholds())
	case http.MethodPost:
		var req thresholdRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.ValueMM == nil {
			httputil.BadRequest(w, "value_mm is required")
			return
		}
		var err error
		switch req.Scope {
		case heatmap.ScopeGlobal.String():
			err = s.svc.Engine().SetGlobalThreshold(*req.ValueMM)
		case heatmap.ScopeROI.String():
			err = s.svc.Engine().SetROIThreshold(req.ROI, *req.ValueMM)
		default:
			httputil.BadRequest(w, fmt.Sprintf("scope must be %q or %q", heatmap.ScopeGlobal, heatmap.ScopeROI))
			return
		}
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !s.persist(w) {
			return
		}
		httputil.WriteJSONOK(w, s.thresholds())
	default:
		httputil.MethodNotAllowed(w)
	}
}

type roiResponse struct {
	ID          int            `json:"id"`
	Label       string         `json:"label"`
	ThresholdMM int            `json:"threshold_mm"`
	Alerting    bool           `json:"alerting"`
	Cells       []heatmap.Cell `json:"cells"`
	Under       []heatmap.Cell `json:"under_threshold"`
}

func (s *Server) rois() ([]roiResponse, error) {
	e := s.svc.Engine()
	_, thresholds := e.Thresholds()
	alerting := e.ROIAlerting()
	out := make([]roiResponse, 0, len(thresholds))
	for id := range thresholds {
		members, err := e.ROIMembers(id)
		if err != nil {
			return nil, err
		}
		under, err := e.UnderThreshold(id)
		if err != nil {
			return nil, err
		}
		out = append(out, roiResponse{
			ID:          id,
			Label:       fmt.Sprintf("Target %d", id+1),
			ThresholdMM: thresholds[id],
			Alerting:    alerting[id],
			Cells:       nonNil(members),
			Under:       nonNil(under),
		})
	}
	return out, nil
}

func nonNil(cells []heatmap.Cell) []heatmap.Cell {
	if cells == nil {
		return []heatmap.Cell{}
	}
	return cells
}

func (s *Server) listROIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rois, err := s.rois()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rois)
}

type cellRequest struct {
	ROI int `json:"roi"`
	Row int `json:"row"`
	Col int `json:"col"`
}

type toggleResponse struct {
	Added bool           `json:"added"`
	Cells []heatmap.Cell `json:"cells"`
}

func (s *Server) toggleCell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req cellRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	e := s.svc.Engine()
	added, err := e.ToggleCellMembership(req.ROI, req.Row, req.Col)
	if err != nil {
		if errors.Is(err, heatmap.ErrCellOwned) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeEngineError(w, err)
		return
	}
	if !s.persist(w) {
		return
	}
	members, _ := e.ROIMembers(req.ROI)
	httputil.WriteJSONOK(w, toggleResponse{Added: added, Cells: nonNil(members)})
}

type clearRequest struct {
	ROI int `json:"roi"`
}

func (s *Server) clearROI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req clearRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.svc.Engine().ClearROI(req.ROI); err != nil {
		writeEngineError(w, err)
		return
	}
	if !s.persist(w) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrientation(w http.ResponseWriter, r *http.Request) {
	e := s.svc.Engine()
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, e.Orientation())
	case http.MethodPost:
		var o heatmap.Orientation
		if err := httputil.DecodeJSON(r, &o); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		e.SetOrientation(o)
		httputil.WriteJSONOK(w, e.Orientation())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) setShape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var shape heatmap.Shape
	if err := httputil.DecodeJSON(r, &shape); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	e := s.svc.Engine()
	if err := e.ReconfigureShape(shape); err != nil {
		writeEngineError(w, err)
		return
	}
	// out-of-range cells were purged
	if !s.persist(w) {
		return
	}
	httputil.WriteJSONOK(w, e.Shape())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			httputil.BadRequest(w, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}

	if s.store == nil {
		httputil.WriteJSONOK(w, s.svc.Events(limit))
		return
	}
	events, err := s.store.RecentEvents(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load events: %v", err))
		return
	}
	if events == nil {
		events = []db.EventRecord{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cs, err := s.svc.Components()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, cs)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.m == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "serial port not available")
		return
	}
	var req commandRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Command == "" {
		httputil.BadRequest(w, "command is required")
		return
	}
	if err := s.m.SendCommand(req.Command); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
}
