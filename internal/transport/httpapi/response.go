package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/task"
)

// envelope wraps every JSON body. Code is 0 on success and the HTTP status
// otherwise.
type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id"`
}

type pushRequest struct {
	Token            string   `json:"token"`
	Repo             string   `json:"repo"`
	Branch           string   `json:"branch"`
	Filepaths        []string `json:"filepaths"`
	ConflictStrategy string   `json:"conflict_strategy"`
	IgnorePatterns   []string `json:"ignore_patterns"`
	MaxTotalBytes    int64    `json:"max_total_bytes"`
	MaxFiles         int      `json:"max_files"`
	MaxSingleFile    int64    `json:"max_single_file"`
	Force            bool     `json:"force"`
	Priority         int      `json:"priority"`
}

func (r pushRequest) spec() task.Spec {
	return task.Spec{
		Repo:           r.Repo,
		Branch:         r.Branch,
		Paths:          r.Filepaths,
		Conflict:       task.Conflict(r.ConflictStrategy),
		IgnorePatterns: r.IgnorePatterns,
		Limits: task.Limits{
			MaxTotalBytes: r.MaxTotalBytes,
			MaxFiles:      r.MaxFiles,
			MaxSingleFile: r.MaxSingleFile,
		},
		Force:      r.Force,
		Priority:   r.Priority,
		Credential: r.Token,
	}
}

type pushResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type cancelResponse struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	TaskID           string     `json:"task_id"`
	Status           string     `json:"status"`
	Repo             string     `json:"repo"`
	Branch           string     `json:"branch"`
	PID              *int       `json:"pid"`
	Progress         string     `json:"progress"`
	Output           string     `json:"output"`
	Error            *string    `json:"error"`
	CopiedFiles      int        `json:"copied_files"`
	SkippedFiles     int        `json:"skipped_files"`
	RenamedFiles     int        `json:"renamed_files"`
	SkippedIdentical int        `json:"skipped_identical"`
	TotalSizeBytes   int64      `json:"total_size_bytes"`
	TotalFilesCount  int        `json:"total_files_count"`
	EmptyDirsCount   int        `json:"empty_dirs_count"`
	CancelRequested  bool       `json:"cancel_requested,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func newStatus(s task.Snapshot) statusResponse {
	out := statusResponse{
		TaskID:           s.ID,
		Status:           string(s.Status),
		Repo:             s.RepoKey,
		Branch:           s.Spec.Branch,
		Progress:         s.Progress,
		Output:           s.Output,
		CopiedFiles:      s.Counters.Copied,
		SkippedFiles:     s.Counters.Skipped,
		RenamedFiles:     s.Counters.Renamed,
		SkippedIdentical: s.Counters.SkippedIdentical,
		TotalSizeBytes:   s.Counters.TotalBytes,
		TotalFilesCount:  s.Counters.TotalFiles,
		EmptyDirsCount:   s.Counters.EmptyDirs,
		CancelRequested:  s.CancelRequested,
		CreatedAt:        timePtr(s.CreatedAt),
		StartedAt:        timePtr(s.StartedAt),
		FinishedAt:       timePtr(s.FinishedAt),
	}
	if s.PID > 0 {
		pid := s.PID
		out.PID = &pid
	}
	if s.Error != "" {
		msg := s.Error
		out.Error = &msg
	}
	return out
}

func newStatusList(snaps []task.Snapshot) []statusResponse {
	out := make([]statusResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, newStatus(s))
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeOK(w http.ResponseWriter, r *http.Request, data any) {
	s.writeJSON(w, http.StatusOK, envelope{Code: 0, Message: "ok", Data: data, RequestID: requestID(r)})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", requestID(r), "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, envelope{Code: status, Message: msg, ErrorCode: string(code), RequestID: requestID(r)})
}
