package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/tablemd/internal/api/models"
	"github.com/smazurov/tablemd/internal/process"
)

// registerConvertRoutes registers the conversion endpoints.
func (s *Server) registerConvertRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "convert-path",
		Method:      http.MethodPost,
		Path:        "/api/convert",
		Summary:     "Convert file",
		Description: "Convert a spreadsheet that already exists on the server to Markdown",
		Tags:        []string{"convert"},
		Errors:      []int{401, 404, 422, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ConvertRequest) (*models.ConvertResponse, error) {
		path := strings.TrimSpace(input.Body.Path)
		if err := process.CheckInput(path); err != nil {
			return nil, mapConvertError(err)
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, huma.Error404NotFound("file not found", err)
			}
			return nil, huma.Error422UnprocessableEntity("file not readable", err)
		}
		return s.convert(ctx, path, path)
	})

	huma.Register(s.api, huma.Operation{
		OperationID:  "convert-upload",
		Method:       http.MethodPost,
		Path:         "/api/convert/upload",
		Summary:      "Convert upload",
		Description:  "Upload a spreadsheet as the request body and convert it to Markdown",
		Tags:         []string{"convert"},
		Errors:       []int{401, 413, 422, 500, 503},
		Security:     withAuth(),
		MaxBodyBytes: s.options.MaxUploadBytes,
	}, func(ctx context.Context, input *models.UploadRequest) (*models.ConvertResponse, error) {
		name := filepath.Base(input.Filename)
		if err := process.CheckInput(name); err != nil {
			return nil, mapConvertError(err)
		}
		if len(input.RawBody) == 0 {
			return nil, huma.Error422UnprocessableEntity("empty upload")
		}

		path, cleanup, err := s.stageUpload(name, input.RawBody)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to store upload", err)
		}
		defer cleanup()

		return s.convert(ctx, path, name)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-formats",
		Method:      http.MethodGet,
		Path:        "/api/formats",
		Summary:     "Supported formats",
		Description: "List the file extensions the converter accepts",
		Tags:        []string{"convert"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.FormatsResponse, error) {
		return &models.FormatsResponse{
			Body: models.FormatsData{Extensions: append([]string(nil), process.SupportedExtensions...)},
		}, nil
	})
}

func (s *Server) convert(ctx context.Context, path, source string) (*models.ConvertResponse, error) {
	requestID := RequestIDFromContext(ctx)
	start := time.Now()

	markdown, err := s.converter.Convert(ctx, path)
	if err != nil {
		s.logger.Warn("Conversion failed", "request_id", requestID, "source", source, "error", err)
		return nil, mapConvertError(err)
	}

	elapsed := time.Since(start)
	s.logger.Info("Conversion completed",
		"request_id", requestID,
		"source", source,
		"bytes", len(markdown),
		"duration", elapsed)

	return &models.ConvertResponse{
		Body: models.ConvertData{
			RequestID:  requestID,
			Source:     source,
			Markdown:   markdown,
			DurationMs: elapsed.Milliseconds(),
		},
	}, nil
}

// stageUpload writes data to a temp file that keeps the upload's extension.
func (s *Server) stageUpload(name string, data []byte) (string, func(), error) {
	ext := strings.ToLower(filepath.Ext(name))
	f, err := os.CreateTemp(s.options.UploadDir, "upload-*"+ext)
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Cannot delete upload", "path", path, "error", err)
		}
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// mapConvertError maps pool errors to HTTP errors.
func mapConvertError(err error) error {
	switch {
	case errors.Is(err, process.ErrUnsupportedInput):
		return huma.Error422UnprocessableEntity(
			fmt.Sprintf("unsupported input, expected one of %s", strings.Join(process.SupportedExtensions, " ")), err)
	case errors.Is(err, process.ErrServiceBusy):
		return huma.Error503ServiceUnavailable("all workers are busy, retry later", err)
	case errors.Is(err, process.ErrShuttingDown):
		return huma.Error503ServiceUnavailable("service is shutting down", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	case errors.Is(err, process.ErrConversionFailed):
		return huma.Error500InternalServerError("conversion failed", err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
