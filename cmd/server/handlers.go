package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/pkg/audion"
	"github.com/himanishpuri/audion/pkg/logger"
	"github.com/himanishpuri/audion/pkg/utils"
	"github.com/mdobak/go-xerrors"
)

// maxFormMemory is how much of a multipart body is held in memory before
// spilling to disk.
const maxFormMemory = 32 << 20

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service audion.Service
	config  *ServerConfig
	log     audion.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	MaxFileSizeMB  int64
	AllowedOrigins []string
	History        bool
}

// NewServer creates a new server instance
func NewServer(service audion.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

func (s *Server) maxFileSize() int64 {
	return s.config.MaxFileSizeMB << 20
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) respondSuccess(w http.ResponseWriter, statusCode int, data any, message string) {
	s.respondJSON(w, statusCode, SuccessResponse{Status: "success", Data: data, Message: message})
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondServiceError maps a service error to its status code. Server-side
// failures are logged with a stack trace and their detail is not exposed.
func (s *Server) respondServiceError(w http.ResponseWriter, what string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s: %v", what, xerrors.New(err))
		s.respondError(w, status, what)
		return
	}
	s.log.Warnf("%s: %v", what, err)
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, audion.ErrRunNotFound):
		return http.StatusNotFound
	case audion.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, audion.ErrDegenerateSignal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audion.ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "audion API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":    "GET /health",
			"info":      "GET /health/info",
			"formats":   "GET /api/audio/formats",
			"analyze":   "POST /api/audio/analyze",
			"compare":   "POST /api/audio/compare",
			"match":     "POST /api/audio/match",
			"runs":      "GET /api/runs",
			"getRun":    "GET /api/runs/{id}",
			"deleteRun": "DELETE /api/runs/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles GET /health/info
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := InfoResponse{
		Status:         "healthy",
		DatabasePath:   s.config.DBPath,
		History:        s.config.History,
		Formats:        s.service.Formats(),
		MaxFileSizeMB:  s.config.MaxFileSizeMB,
		AllowedOrigins: s.config.AllowedOrigins,
	}
	if s.config.History {
		runs, err := s.service.ListRuns("", 0)
		if err != nil {
			s.respondServiceError(w, "Failed to retrieve run count", err)
			return
		}
		info.RunCount = len(runs)
	}
	s.respondJSON(w, http.StatusOK, info)
}

// handleFormats handles GET /api/audio/formats
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.respondSuccess(w, http.StatusOK, FormatsResponse{
		Formats:       s.service.Formats(),
		MaxFileSizeMB: s.config.MaxFileSizeMB,
		FFmpeg:        audio.FFmpegAvailable("ffmpeg"),
	}, "")
}

// handleAnalyze handles POST /api/audio/analyze (multipart audio_file)
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if !s.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["audio_file"]
	if len(headers) != 1 {
		s.respondError(w, http.StatusBadRequest, "exactly one audio_file is required")
		return
	}

	clips, cleanup, err := s.saveUploads(headers)
	defer cleanup()
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	spectrogram := true
	if v := r.URL.Query().Get("spectrogram"); v != "" {
		spectrogram, _ = strconv.ParseBool(v)
	}

	a, err := s.service.Analyze(ctx, clips[0], spectrogram)
	if err != nil {
		s.respondServiceError(w, "Failed to analyze audio", err)
		return
	}

	s.respondSuccess(w, http.StatusOK, a, "Audio analyzed successfully")
}

// handleCompare handles POST /api/audio/compare (multipart file_a, file_b)
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if !s.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	a, b := r.MultipartForm.File["file_a"], r.MultipartForm.File["file_b"]
	if len(a) != 1 || len(b) != 1 {
		s.respondError(w, http.StatusBadRequest, "file_a and file_b are required")
		return
	}

	clips, cleanup, err := s.saveUploads([]*multipart.FileHeader{a[0], b[0]})
	defer cleanup()
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	c, err := s.service.Compare(ctx, clips[0], clips[1])
	if err != nil {
		s.respondServiceError(w, "Failed to compare audio", err)
		return
	}

	s.respondSuccess(w, http.StatusOK, c, "Audio compared successfully")
}

// handleMatch handles POST /api/audio/match (multipart test_files, reference_files)
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if !s.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	testHeaders := formFiles(r.MultipartForm, "test_files")
	refHeaders := formFiles(r.MultipartForm, "reference_files")
	if len(testHeaders) == 0 || len(refHeaders) == 0 {
		s.respondError(w, http.StatusBadRequest, "test_files and reference_files are required")
		return
	}

	clips, cleanup, err := s.saveUploads(append(testHeaders, refHeaders...))
	defer cleanup()
	if err != nil {
		s.respondUploadError(w, err)
		return
	}
	tests, refs := clips[:len(testHeaders)], clips[len(testHeaders):]

	spectrograms := true
	if v := r.URL.Query().Get("spectrograms"); v != "" {
		spectrograms, _ = strconv.ParseBool(v)
	}

	s.log.Infof("Matching %d test files against %d references", len(tests), len(refs))
	res, err := s.service.Match(ctx, tests, refs, spectrograms)
	if err != nil {
		s.respondServiceError(w, "Failed to match audio", err)
		return
	}

	msg := fmt.Sprintf("Matched %d of %d test files", len(res.Results)-res.UnmatchedCount, len(res.Results))
	s.respondSuccess(w, http.StatusOK, res, msg)
}

// handleRuns handles GET /api/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.service.ListRuns(r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.respondServiceError(w, "Failed to retrieve runs", err)
		return
	}

	s.respondSuccess(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)}, "")
}

// handleRun routes requests to /api/runs/{id}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/runs/"):]
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Run ID required")
		return
	}
	if !utils.IsUUID(id) {
		s.respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := s.service.GetRun(id)
		if err != nil {
			s.respondServiceError(w, fmt.Sprintf("Failed to retrieve run %s", id), err)
			return
		}
		s.respondSuccess(w, http.StatusOK, run, "")
	case http.MethodDelete:
		if err := s.service.DeleteRun(id); err != nil {
			s.respondServiceError(w, fmt.Sprintf("Failed to delete run %s", id), err)
			return
		}
		s.log.Infof("Deleted run %s", id)
		s.respondSuccess(w, http.StatusOK, DeleteRunResponse{ID: id}, "Run deleted successfully")
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		s.log.Warnf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return false
	}
	return true
}

// formFiles returns the files posted under name, also accepting the
// "name[]" spelling used by browser form libraries.
func formFiles(form *multipart.Form, name string) []*multipart.FileHeader {
	out := append([]*multipart.FileHeader{}, form.File[name]...)
	return append(out, form.File[name+"[]"]...)
}

// uploadError is a rejected upload; its message is safe to return.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		s.respondError(w, ue.status, ue.msg)
		return
	}
	s.log.Errorf("Failed to store upload: %v", xerrors.New(err))
	s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
}

// saveUploads checks each file against the size and format limits and
// copies it into the temp directory. The returned cleanup removes every
// file written so far and is safe to call on error.
func (s *Server) saveUploads(headers []*multipart.FileHeader) ([]audion.Clip, func(), error) {
	var paths []string
	cleanup := func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	policy := audio.NewFormatPolicy(s.service.Formats())
	clips := make([]audion.Clip, 0, len(headers))
	for _, h := range headers {
		if h.Size > s.maxFileSize() {
			return nil, cleanup, &uploadError{http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s exceeds the %d MB limit", h.Filename, s.config.MaxFileSizeMB)}
		}
		if err := policy.Check(h.Filename); err != nil {
			return nil, cleanup, &uploadError{http.StatusBadRequest, err.Error()}
		}

		path, err := s.saveUpload(h)
		if path != "" {
			paths = append(paths, path)
		}
		if err != nil {
			return nil, cleanup, err
		}
		clips = append(clips, audion.Clip{Path: path, Name: h.Filename})
	}
	return clips, cleanup, nil
}

func (s *Server) saveUpload(h *multipart.FileHeader) (string, error) {
	file, err := h.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	name := fmt.Sprintf("upload_%s_%s", utils.GenerateUUID(), utils.SanitizeFilename(h.Filename))
	path := filepath.Join(s.config.TempDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		return path, err
	}
	return path, out.Close()
}
