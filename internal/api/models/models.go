// Package models defines request and response bodies for the HTTP API.
package models

import "github.com/smazurov/tablemd/internal/process"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"ok, degraded or shutting_down"`
	Message string `json:"message" example:"4 of 4 workers alive" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-15T10:00:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"ci-311" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Conversion models
type ConvertRequestData struct {
	Path string `json:"path" minLength:"1" example:"/srv/reports/q1.xlsx" doc:"Spreadsheet path on the server"`
}

type ConvertRequest struct {
	Body ConvertRequestData
}

type UploadRequest struct {
	Filename string `query:"filename" required:"true" minLength:"1" example:"q1.xlsx" doc:"Original file name, used for the extension check"`
	RawBody  []byte `contentType:"application/octet-stream"`
}

type ConvertData struct {
	RequestID  string `json:"request_id" example:"5f0c6f1e-8d0a-4c59-9b8e-5d1f0f3c2a11" doc:"Request identifier"`
	Source     string `json:"source" example:"q1.xlsx" doc:"Converted file"`
	Markdown   string `json:"markdown" doc:"Markdown produced by the worker"`
	DurationMs int64  `json:"duration_ms" example:"840" doc:"Conversion wall time in milliseconds"`
}

type ConvertResponse struct {
	Body ConvertData
}

// Pool models
type PoolData struct {
	Stats   process.Stats  `json:"stats" doc:"Pool counters"`
	Workers []process.Info `json:"workers" doc:"Per-worker state"`
}

type PoolResponse struct {
	Body PoolData
}

type FormatsData struct {
	Extensions []string `json:"extensions" example:"[\".xlsx\",\".csv\"]" doc:"Accepted file extensions, matched case-insensitively"`
}

type FormatsResponse struct {
	Body FormatsData
}
