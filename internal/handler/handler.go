package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/features"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/service"
	"offer-chain-api/internal/validation"
)

const (
	defaultPage        = 1
	defaultRowsPerPage = 10
	maxRowsPerPage     = 200
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	logger      *slog.Logger
	features    *features.Manager
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *slog.Logger
	Features    *features.Manager
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
		features:    opts.Features,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeBody reads a JSON body into dst, bounded by the configured size.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apierror.Validation(apierror.CodeInvalidBody, "request body is required")
		case errors.As(err, &tooLarge):
			return apierror.New(http.StatusRequestEntityTooLarge, apierror.CodeInvalidBody, "request body is too large")
		default:
			return apierror.Validation(apierror.CodeInvalidBody, "invalid JSON in request body")
		}
	}
	return nil
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name, message string) (int64, error) {
	id, ok := validation.ParseID(chi.URLParam(r, name))
	if !ok {
		return 0, apierror.Validation(apierror.CodeInvalidID, message)
	}
	return id, nil
}

// pagination reads page and rows_per_page, returning offset, limit and page.
func pagination(r *http.Request) (offset, limit, page int, err error) {
	page, rows := defaultPage, defaultRowsPerPage
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, 0, apierror.Validation(apierror.CodeInvalidPagination, "page must be a positive integer")
		}
	}
	if v := q.Get("rows_per_page"); v != "" {
		if rows, err = strconv.Atoi(v); err != nil || rows < 1 {
			return 0, 0, 0, apierror.Validation(apierror.CodeInvalidPagination, "rows_per_page must be a positive integer")
		}
	}

	return (page - 1) * rows, min(rows, maxRowsPerPage), page, nil
}

func principal(r *http.Request) auth.Principal {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p
	}
	return auth.Anonymous
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// respondError translates err into a status code and error envelope. Server
// errors are logged with the request id.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)

	body := models.ErrorResponse{
		Success: false,
		Message: apiErr.Message,
		Code:    apiErr.Code,
	}
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if h.features.IsEnabled(features.FeatureDevErrorDetails) {
			body.Details = err.Error()
		}
	}

	h.respondJSON(w, apiErr.Status, body)
}
