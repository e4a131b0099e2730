package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/signalsfoundry/dfs-precac/internal/config"
	"github.com/signalsfoundry/dfs-precac/internal/journal"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/kb"
	"github.com/signalsfoundry/dfs-precac/model"
)

const maxRequestBody = 64 << 10

// api is the HTTP control surface of precacd. Radio drivers post radar and
// agile completions here; operators read status, events and forest dumps.
type api struct {
	sched   *precac.Scheduler
	store   *kb.KnowledgeBase
	journal *journal.Journal
	sink    *radioSink
	log     logging.Logger
}

func (a *api) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /debug/precac", a.dumpHandler)
	mux.HandleFunc("GET /v1/status", a.statusHandler)
	mux.HandleFunc("GET /v1/events", a.eventsHandler)
	mux.HandleFunc("POST /v1/radar", a.radarHandler)
	mux.HandleFunc("POST /v1/agile/start", a.agileStartHandler)
	mux.HandleFunc("POST /v1/agile/stop", a.agileStopHandler)
	mux.HandleFunc("POST /v1/agile/complete", a.agileCompleteHandler)
	mux.HandleFunc("POST /v1/channel", a.channelHandler)
	mux.HandleFunc("POST /v1/nol/expire", a.nolExpireHandler)
	mux.HandleFunc("POST /v1/cac", a.cacHandler)
	mux.HandleFunc("POST /v1/domain", a.domainHandler)
	mux.HandleFunc("POST /v1/enabled", a.enabledHandler)
	return withEventID(mux)
}

type statusResponse struct {
	precac.Status
	Commands map[int]radioCommand `json:"commands,omitempty"`
}

type radarRequest struct {
	Radio      int   `json:"radio"`
	Channels   []int `json:"channels"`
	Secondary  bool  `json:"secondary,omitempty"`
	DetectorID int   `json:"detector_id,omitempty"`
}

type radioRequest struct {
	Radio int `json:"radio"`
}

type agileCompleteRequest struct {
	Radio  int    `json:"radio"`
	Status string `json:"status"`
}

type channelRequest struct {
	Radio    int `json:"radio"`
	Center1  int `json:"center1"`
	Center2  int `json:"center2,omitempty"`
	WidthMHz int `json:"width_mhz"`
}

type nolRequest struct {
	Radio   int `json:"radio"`
	Channel int `json:"channel"`
}

type cacRequest struct {
	Radio   int  `json:"radio"`
	Running bool `json:"running"`
}

type domainRequest struct {
	Radio  string `json:"radio"`
	Domain string `json:"domain"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *api) dumpHandler(w http.ResponseWriter, r *http.Request) {
	radio := 0
	if raw := r.URL.Query().Get("radio"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "radio must be an integer", http.StatusBadRequest)
			return
		}
		radio = v
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := a.sched.Dump(radio, w); err != nil {
		writeError(w, err)
	}
}

func (a *api) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{Status: a.sched.Status(), Commands: a.sink.snapshot()})
}

func (a *api) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = v
	}
	events, err := a.journal.List(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve events: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (a *api) radarHandler(w http.ResponseWriter, r *http.Request) {
	var req radarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Channels) == 0 {
		http.Error(w, "channels must not be empty", http.StatusBadRequest)
		return
	}
	ev := precac.RadarEvent{Radio: req.Radio, Secondary: req.Secondary, DetectorID: req.DetectorID}
	for _, ch := range req.Channels {
		ev.Channels = append(ev.Channels, model.Channel(ch))
	}
	if err := a.sched.RadarFound(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) agileStartHandler(w http.ResponseWriter, r *http.Request) {
	var req radioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.sched.StartAgile(r.Context(), req.Radio); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) agileStopHandler(w http.ResponseWriter, r *http.Request) {
	var req radioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.sched.StopAgile(r.Context(), req.Radio); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) agileCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req agileCompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, ok := parseOCACStatus(req.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
		return
	}
	if err := a.sched.AgileCACComplete(r.Context(), req.Radio, status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) channelHandler(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name, ok := a.radioName(req.Radio)
	if !ok {
		writeError(w, fmt.Errorf("radio %d: %w", req.Radio, precac.ErrUnknownRadio))
		return
	}
	spec := config.RadioSpec{Name: name, Center1: req.Center1, Center2: req.Center2, WidthMHz: req.WidthMHz}
	if spec.Width() == model.WidthUnknown || spec.Center1 <= 0 {
		http.Error(w, "invalid channel", http.StatusBadRequest)
		return
	}
	applied, err := a.sched.SetOperatingChannel(r.Context(), req.Radio, spec.Operating(a.store.Catalog(name).IsDFS))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"operating": applied.String()})
}

func (a *api) nolExpireHandler(w http.ResponseWriter, r *http.Request) {
	var req nolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.sched.NOLExpired(r.Context(), req.Radio, model.Channel(req.Channel)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) cacHandler(w http.ResponseWriter, r *http.Request) {
	var req cacRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.sched.SetConventionalCAC(r.Context(), req.Radio, req.Running); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// radioName resolves a scheduler radio index to its catalog name.
func (a *api) radioName(idx int) (string, bool) {
	for _, rs := range a.sched.Status().Radios {
		if rs.Index == idx {
			return rs.Name, true
		}
	}
	return "", false
}

func (a *api) domainHandler(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d := model.ParseDomain(req.Domain)
	if d == model.DomainUninit {
		http.Error(w, fmt.Sprintf("unknown domain %q", req.Domain), http.StatusBadRequest)
		return
	}
	if a.store.RadioDomain(req.Radio) == model.DomainUninit {
		http.Error(w, fmt.Sprintf("unknown radio %q", req.Radio), http.StatusNotFound)
		return
	}
	if err := a.store.SetRadioDomain(req.Radio, d); err != nil {
		writeError(w, err)
		return
	}
	a.log.Info(r.Context(), "regulatory domain changed",
		logging.String("radio", req.Radio),
		logging.String("domain", d.String()),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) enabledHandler(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.sched.SetEnabled(r.Context(), req.Enabled)
	writeJSON(w, map[string]string{"mode": a.sched.Mode().String()})
}

func parseOCACStatus(s string) (precac.OCACStatus, bool) {
	for _, st := range []precac.OCACStatus{precac.OCACSuccess, precac.OCACReset, precac.OCACCancel} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeError maps scheduler and catalog errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, precac.ErrUnknownRadio):
		status = http.StatusNotFound
	case errors.Is(err, precac.ErrNotLegacy), errors.Is(err, precac.ErrDomainNoPrecac):
		status = http.StatusConflict
	case errors.Is(err, precac.ErrInvalidConfig), errors.Is(err, kb.ErrUnknownDomain):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
