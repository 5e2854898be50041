package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gisbridge/internal/api"
	"gisbridge/internal/config"
	"gisbridge/internal/history"
	"gisbridge/internal/model"
	"gisbridge/internal/workstation"
)

const Version = "1.0"

const defaultHistoryLimit = 50

// Server terminates inbound connections, parses requests into the shapes
// the Router expects, and serializes results back onto the wire. It runs on
// its own threads; UI interaction only ever happens through the Router.
type Server struct {
	cfg         config.Config
	httpSrv     *http.Server
	listener    net.Listener
	router      *Router
	store       *history.Store
	ready       atomic.Bool
	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, router *Router, store *history.Store) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:    cfg,
		router: router,
		store:  store,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/version", s.versionHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/init/cmd", s.initCmdHandler)
	mux.HandleFunc("/init/map", s.initMapHandler)
	mux.HandleFunc("/init/layer", s.initLayerHandler)
	mux.HandleFunc("/init/scale", s.initScaleHandler)
	mux.HandleFunc("/dump", s.dumpHandler)
	mux.HandleFunc("/info", s.dumpHandler)
	mux.HandleFunc("/gcmd", s.gcmdHandler)
	mux.HandleFunc("/quit", s.quitHandler)
	mux.HandleFunc("/history", s.historyHandler)
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// SetReady opens the bridge for commands. Called once the workstation's
// top-level state has been constructed on the executor.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// Addr reports the bound address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeText(w, Version)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Ready:         s.ready.Load(),
	})
}

func (s *Server) initCmdHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	ok, err := s.router.InitCommandConsole(r.Context())
	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, http.StatusOK, api.InitResponse{Code: err == nil && ok})
		return
	}
	s.writeBoolOutcome(w, ok, err)
}

type initMapRequest struct {
	GrassDB  string `json:"grassdb"`
	Location string `json:"location"`
	Mapset   string `json:"mapset"`
}

func (s *Server) initMapHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	var req initMapRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.GrassDB = strings.TrimSpace(req.GrassDB)
	req.Location = strings.TrimSpace(req.Location)
	req.Mapset = strings.TrimSpace(req.Mapset)
	if req.GrassDB == "" || req.Location == "" || req.Mapset == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "grassdb, location, mapset are required")
		return
	}
	ok, err := s.router.InitMapset(r.Context(), sessionParams(req))
	s.writeBoolOutcome(w, ok, err)
}

type initLayerRequest struct {
	Query string `json:"query"`
}

func (s *Server) initLayerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	var req initLayerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "query is required")
		return
	}
	ok, err := s.router.DisplayLayer(r.Context(), req.Query)
	s.writeBoolOutcome(w, ok, err)
}

type initScaleRequest struct {
	Scale float64 `json:"scale"`
}

func (s *Server) initScaleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	var req initScaleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Scale <= 0 {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "scale must be positive")
		return
	}
	ok, err := s.router.SetMapScale(r.Context(), req.Scale)
	s.writeBoolOutcome(w, ok, err)
}

func (s *Server) dumpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.requireReady(w) {
		return
	}
	snap, err := s.router.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.writeText(w, "ERROR")
			return
		}
		s.writeError(w, http.StatusInternalServerError, model.ErrPrecondition, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type gcmdRequest struct {
	Cmd    string         `json:"cmd"`
	Kwargs map[string]any `json:"kwargs"`
}

func (s *Server) gcmdHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	var req gcmdRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Cmd = strings.TrimSpace(req.Cmd)
	if req.Cmd == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "cmd is required")
		return
	}
	options, err := stringifyKwargs(req.Kwargs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, err.Error())
		return
	}

	res, err := s.router.RunModule(r.Context(), req.Cmd, options)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.writeText(w, "ERROR")
			return
		}
		s.writeError(w, http.StatusInternalServerError, model.ErrPrecondition, err.Error())
		return
	}
	if res.Detail != "" {
		s.writeError(w, http.StatusInternalServerError, model.ErrModuleFailed, res.Detail)
		return
	}

	resp := api.GCmdResponse{ReturnCode: res.Code}
	if options["format"] == "json" {
		if !json.Valid([]byte(res.Stdout)) {
			s.writeError(w, http.StatusInternalServerError, model.ErrModuleFailed, "module stdout is not valid JSON")
			return
		}
		resp.Stdout = api.StructuredOutput(json.RawMessage(res.Stdout))
	} else {
		resp.Stdout = api.RawOutput(res.Stdout)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) quitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireReady(w) {
		return
	}
	if err := s.router.Quit(r.Context()); err != nil {
		s.writeText(w, "ERROR")
		return
	}
	s.writeText(w, "OK")
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.requireReady(w) {
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrPrecondition, "command history is unavailable")
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPrecondition, "failed to list command history")
		return
	}
	resp := api.HistoryEnvelope{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Commands:      make([]api.CommandItem, 0, len(records)),
	}
	for _, rec := range records {
		resp.Commands = append(resp.Commands, toCommandItem(rec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// requireReady rejects requests that would touch the UI thread before the
// workstation's top-level state exists.
func (s *Server) requireReady(w http.ResponseWriter) bool {
	if s.ready.Load() {
		return true
	}
	s.writeError(w, http.StatusServiceUnavailable, model.ErrNotReady, "workstation is not ready")
	return false
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, "invalid request body")
		return false
	}
	return true
}

// writeBoolOutcome renders the OK/ERROR contract shared by the init
// endpoints: timeouts and workstation refusals both read as ERROR.
func (s *Server) writeBoolOutcome(w http.ResponseWriter, ok bool, err error) {
	if err == nil && ok {
		s.writeText(w, "OK")
		return
	}
	if err != nil && !errors.Is(err, ErrTimeout) {
		s.writeError(w, http.StatusBadRequest, model.ErrRequestInvalid, err.Error())
		return
	}
	s.writeText(w, "ERROR")
}

func (s *Server) writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRequestInvalid, "method not allowed")
}

func stringifyKwargs(kwargs map[string]any) (map[string]string, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kwargs))
	for k, v := range kwargs {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("kwargs.%s must be a string, number, or boolean", k)
		}
	}
	return out, nil
}

func toCommandItem(rec model.CommandRecord) api.CommandItem {
	item := api.CommandItem{
		CommandID:   rec.CommandID,
		Kind:        string(rec.Kind),
		ResultCode:  rec.ResultCode,
		ExitCode:    rec.ExitCode,
		RequestedAt: rec.RequestedAt.UTC().Format(time.RFC3339Nano),
		DurationMS:  rec.DurationMS,
	}
	if rec.ParamsJSON != "" {
		item.Params = json.RawMessage(rec.ParamsJSON)
	}
	if rec.CompletedAt != nil {
		v := rec.CompletedAt.UTC().Format(time.RFC3339Nano)
		item.CompletedAt = &v
	}
	return item
}

func sessionParams(req initMapRequest) workstation.SessionParams {
	return workstation.SessionParams{
		GrassDB:  req.GrassDB,
		Location: req.Location,
		Mapset:   req.Mapset,
	}
}
