package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lexiflow/doc-translator/internal/persistence"
	"github.com/lexiflow/doc-translator/internal/service"
)

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request, owner string) {
	switch r.Method {
	case http.MethodGet:
		s.listTranslations(w, r, owner)
	case http.MethodPost:
		s.submitTranslation(w, r, owner)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listTranslations(w http.ResponseWriter, r *http.Request, owner string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.svc.ListRecent(r.Context(), owner, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: toJobResponses(list)})
}

func (s *Server) submitTranslation(w http.ResponseWriter, r *http.Request, owner string) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	receipt, err := s.svc.Submit(r.Context(), service.SubmitRequest{
		Owner:      owner,
		FileName:   header.Filename,
		MediaType:  mediaType,
		SourceLang: r.FormValue("source_lang"),
		TargetLang: r.FormValue("target_lang"),
		Data:       data,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleTranslationByID(w http.ResponseWriter, r *http.Request, owner string) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/translations/")
	jobID, action, _ := strings.Cut(rest, "/")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.svc.Status(r.Context(), jobID, owner)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	case action == "result" && r.Method == http.MethodGet:
		res, err := s.svc.Result(r.Context(), jobID, owner)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case action == "retry" && r.Method == http.MethodPost:
		if err := s.svc.Retry(r.Context(), jobID, owner); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bal, err := s.svc.Balance(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Owner:        bal.Owner,
		PagesBalance: bal.PagesBalance,
		PagesUsed:    bal.PagesUsed,
	})
}

type jobListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

type jobResponse struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	FileName    string  `json:"file_name"`
	SourceLang  string  `json:"source_lang,omitempty"`
	TargetLang  string  `json:"target_lang"`
	TotalPages  int     `json:"total_pages"`
	CurrentPage int     `json:"current_page"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type balanceResponse struct {
	Owner        string `json:"owner"`
	PagesBalance int    `json:"pages_balance"`
	PagesUsed    int    `json:"pages_used"`
}

func toJobResponse(job *persistence.Job) jobResponse {
	return jobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		FileName:    job.FileName,
		SourceLang:  job.SourceLang,
		TargetLang:  job.TargetLang,
		TotalPages:  job.TotalPages,
		CurrentPage: job.CurrentPage,
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toJobResponses(list []*persistence.Job) []jobResponse {
	ret := make([]jobResponse, 0, len(list))
	for _, job := range list {
		ret = append(ret, toJobResponse(job))
	}
	return ret
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, persistence.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedMedia):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
