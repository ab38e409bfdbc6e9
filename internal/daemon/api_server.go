package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
	"github.com/MATXBY/m4brew/internal/preflight"
	"github.com/MATXBY/m4brew/internal/services"
)

const maxBodyBytes = 64 * 1024

type apiServer struct {
	logger *slog.Logger
	daemon *Daemon
	events *eventHub

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.events = newEventHub(d.sup, srv.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/job", srv.handleJob)
	mux.HandleFunc("/api/job/cancel", srv.handleCancel)
	mux.HandleFunc("/api/job/log", srv.handleJobLog)
	mux.HandleFunc("/api/history", srv.handleHistory)
	mux.HandleFunc("/api/history/", srv.handleHistoryItem)
	mux.HandleFunc("/api/settings", srv.handleSettings)
	mux.HandleFunc("/api/logs", srv.handleLogs)
	mux.HandleFunc("/api/events", srv.events.serveWS)

	srv.server = &http.Server{
		Handler:           authMiddleware(d.cfg.Paths.APIToken, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context, bind string) error {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return services.Wrap(services.ErrConfiguration, "daemon", "listen", "paths.api_bind is empty", nil)
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.events.start(ctx)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.events.stop()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.daemon.sup.Snapshot())
	case http.MethodPost:
		var req api.StartJobRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", "", err.Error()))
			return
		}
		snap, err := s.daemon.sup.Start(req)
		if err != nil {
			var se *job.StartError
			if errors.As(err, &se) {
				s.writeJSON(w, startErrorStatus(se.Code), errorBody("job rejected", se.Code, se.Detail))
				return
			}
			s.writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), "", ""))
			return
		}
		s.writeJSON(w, http.StatusAccepted, snap)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func startErrorStatus(code string) int {
	switch code {
	case job.CodeAlreadyRunning:
		return http.StatusConflict
	case job.CodeInvalidMode:
		return http.StatusBadRequest
	case preflight.CodeNoRoot, preflight.CodeFolderMissing, preflight.CodeNotMounted, preflight.CodeWriteDenied:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	snap, accepted := s.daemon.sup.Cancel()
	s.writeJSON(w, http.StatusOK, api.CancelResponse{Accepted: accepted, Job: snap})
}

func (s *apiServer) handleJobLog(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query()
	current := s.daemon.sup.Snapshot()
	id := strings.TrimSpace(query.Get("id"))
	if id == "" {
		id = current.ID
	}
	if id == "" {
		s.writeJSON(w, http.StatusNotFound, errorBody("no job has run yet", "", ""))
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid job id", "", id))
		return
	}
	offset, _ := strconv.ParseInt(query.Get("offset"), 10, 64)
	if offset < 0 {
		offset = 0
	}

	data, next, err := logging.ReadJobLog(s.daemon.sup.LogPath(id), offset)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorBody("read job log failed", "", err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobLogResponse{
		JobID:   id,
		Offset:  offset,
		Next:    next,
		Content: string(data),
		Done:    id != current.ID || !current.Status.Active(),
	})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.daemon.history == nil {
		s.writeJSON(w, http.StatusOK, api.HistoryResponse{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.daemon.history.List(r.Context(), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorBody("list history failed", "", err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Runs: runs})
}

func (s *apiServer) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if id == "" || strings.Contains(id, "/") || s.daemon.history == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody("run not found", "", ""))
		return
	}
	rec, err := s.daemon.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorBody("run not found", "", id))
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, errorBody("read history failed", "", err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.daemon.Settings())
	case http.MethodPut, http.MethodPost:
		var update config.SettingsUpdate
		if err := decodeBody(r, &update); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", "", err.Error()))
			return
		}
		resp, err := s.daemon.UpdateSettings(update)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, errorBody("settings applied but not saved", "", err.Error()))
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	hub := s.daemon.hub
	archive := s.daemon.archive
	if hub == nil && archive == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := queryFlag(query.Get("follow"))
	tail := queryFlag(query.Get("tail"))
	jobID := strings.TrimSpace(query.Get("job"))
	component := strings.TrimSpace(query.Get("component"))

	var (
		raw  []logging.LogEvent
		next uint64
	)
	// Cursors older than the ring buffer are served from the archive.
	if archive != nil && since > 0 && (hub == nil || since < hub.FirstSequence()) {
		archived, cursor, err := archive.ReadSince(since, limit)
		if err != nil {
			s.logger.Warn("log archive read failed", logging.Error(err), logging.String(logging.FieldEventType, "log_archive_read_failed"))
		} else {
			raw, next = archived, cursor
		}
	}
	switch {
	case len(raw) > 0:
	case tail && since == 0 && !follow && hub != nil:
		raw, next = hub.Tail(limit)
	case hub != nil:
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
		}
		events, cursor, err := hub.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), "", ""))
			return
		}
		raw, next = events, cursor
	}
	if next < since {
		next = since
	}

	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{
		Events: api.FromLogEvents(raw, jobID, component),
		Next:   next,
	})
}

func queryFlag(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	methodNotAllowed(w, method)
	return false
}

func methodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", "", ""))
}

func errorBody(message, code, detail string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Code: code, Detail: detail}
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
