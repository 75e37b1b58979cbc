package api

import (
	"casequeue/internal/domain"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const ownerHeader = "X-User-ID"

type submitReq struct {
	Payload  domain.Payload `json:"payload"`
	Priority *int           `json:"priority"`
}

type submitResp struct {
	ID int64 `json:"id"`
}

type waitResp struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": s.manager.IsRunning()})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	st, req, ok := decodeSubmit(w, r)
	if !ok {
		return
	}

	id, err := s.manager.Submit(r.Context(), st, req.Payload, r.Header.Get(ownerHeader), req.Priority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{ID: id})
}

func (s *Server) submitAndWait(w http.ResponseWriter, r *http.Request) {
	st, req, ok := decodeSubmit(w, r)
	if !ok {
		return
	}

	timeout := s.waitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + raw})
			return
		}
		timeout = min(d, s.waitTimeout)
	}

	id, err := s.manager.Submit(r.Context(), st, req.Payload, r.Header.Get(ownerHeader), req.Priority)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.manager.Wait(r.Context(), id, timeout)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, waitResp{ID: id, Result: res})
}

func (s *Server) task(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid task id"})
		return
	}

	state, err := s.manager.Task(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decodeSubmit reads the service type and body. An empty body submits an
// empty payload at the type's default priority.
func decodeSubmit(w http.ResponseWriter, r *http.Request) (domain.ServiceType, submitReq, bool) {
	st := domain.ServiceType(chi.URLParam(r, "serviceType"))

	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid body: " + err.Error()})
		return st, req, false
	}
	if req.Payload == nil {
		req.Payload = domain.Payload{}
	}
	return st, req, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownServiceType), errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrResourceExhausted), errors.Is(err, domain.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrWaitTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTaskFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, errorResp{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
