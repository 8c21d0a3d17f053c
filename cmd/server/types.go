package main

import (
	"github.com/himanishpuri/audion/pkg/audion"
)

// SuccessResponse wraps every successful API payload.
type SuccessResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// FormatsResponse is the response for GET /api/audio/formats
type FormatsResponse struct {
	Formats       []string `json:"formats"`
	MaxFileSizeMB int64    `json:"max_file_size_mb"`
	FFmpeg        bool     `json:"ffmpeg"`
}

// ListRunsResponse is the response for GET /api/runs
type ListRunsResponse struct {
	Runs  []audion.RunSummary `json:"runs"`
	Count int                 `json:"count"`
}

// DeleteRunResponse is the response for DELETE /api/runs/{id}
type DeleteRunResponse struct {
	ID string `json:"id"`
}

// InfoResponse provides server configuration and history metrics
type InfoResponse struct {
	Status         string   `json:"status"`
	DatabasePath   string   `json:"database_path"`
	History        bool     `json:"history"`
	RunCount       int      `json:"run_count"`
	Formats        []string `json:"formats"`
	MaxFileSizeMB  int64    `json:"max_file_size_mb"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
