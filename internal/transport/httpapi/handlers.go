package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/tasuku43/gitpush/internal/apperr"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, r, map[string]string{"status": "ok", "version": s.opts.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, envelope{
			Code:      http.StatusServiceUnavailable,
			Message:   "not ready",
			Data:      map[string]string{"status": "not_ready"},
			RequestID: requestID(r),
		})
		return
	}
	stats := s.svc.Stats()
	s.writeOK(w, r, map[string]any{
		"status":  "ready",
		"queued":  stats.Queued,
		"running": stats.Running,
		"ceiling": stats.Ceiling,
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, apperr.Validation("request body is required"))
			return
		}
		s.writeError(w, r, apperr.Validation("invalid payload: %v", err))
		return
	}
	res, err := s.svc.Submit(r.Context(), req.spec())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, pushResponse{TaskID: res.TaskID, Status: string(res.Status), Message: res.Message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, newStatus(snap))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, cancelResponse{TaskID: res.TaskID, Success: res.Success, Message: res.Message})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, r, newStatusList(s.svc.List()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	snaps, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, newStatusList(snaps))
}
