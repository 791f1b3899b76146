package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/resume"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	controller          *engine.Controller
	bus                 *timeline.Bus
	runs                *runstore.Store
	resumes             *resume.Store
	extractor           resume.Chain
	saved               *savedstore.Store
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	resumeMaxBytes      int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Saved, OpenAPISpec. An empty Extractor gets the
// default chain.
type HandlersDeps struct {
	Controller          *engine.Controller
	Bus                 *timeline.Bus
	Runs                *runstore.Store
	Resumes             *resume.Store
	Extractor           resume.Chain
	Saved               *savedstore.Store
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	ResumeMaxBytes      int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if len(d.Extractor) == 0 {
		d.Extractor = resume.DefaultChain()
	}
	return &Handlers{
		controller:          d.Controller,
		bus:                 d.Bus,
		runs:                d.Runs,
		resumes:             d.Resumes,
		extractor:           d.Extractor,
		saved:               d.Saved,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		resumeMaxBytes:      d.ResumeMaxBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	savedStatus := "disabled"
	if h.saved != nil {
		savedStatus = "connected"
		if err := h.saved.Ping(r.Context()); err != nil {
			savedStatus = "disconnected"
			status = "degraded"
		}
	}

	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:     status,
		Version:    h.version,
		ActiveRuns: h.runs.ActiveRuns(),
		SavedStore: savedStatus,
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleUploadResume handles POST /v1/resume. The body is either a
// multipart form with a "file" part or the raw document bytes. The
// extracted text is held server-side; only the token travels back.
func (h *Handlers) HandleUploadResume(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.resumeMaxBytes)

	data, filename, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput,
				fmt.Sprintf("resume exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	text, err := h.extractor.Extract(data)
	if err != nil {
		if errors.Is(err, resume.ErrUnparseable) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeResumeUnparseable,
				"could not extract text from the uploaded document")
			return
		}
		h.writeInternalError(w, r, "resume extraction failed", err)
		return
	}

	token, err := h.resumes.Put(text)
	if err != nil {
		h.writeInternalError(w, r, "failed to store resume", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.UploadResumeResponse{
		Token:    token,
		Chars:    utf8.RuneCountInString(text),
		Filename: filename,
	})
}

// readUpload pulls the document bytes out of the request, handling both
// multipart forms (field "file") and raw bodies.
func readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("multipart upload needs a %q file field", "file")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, "", nil
}

// HandleSaveItem handles POST /v1/saved.
func (h *Handlers) HandleSaveItem(w http.ResponseWriter, r *http.Request) {
	if h.saved == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "saved items not configured")
		return
	}

	var req model.SaveItemRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	id, err := h.saved.Add(r.Context(), string(req.Kind), req.Item)
	if err != nil {
		if errors.Is(err, savedstore.ErrInvalidKind) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to save item", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]int64{"id": id})
}

// HandleListSaved handles GET /v1/saved.
func (h *Handlers) HandleListSaved(w http.ResponseWriter, r *http.Request) {
	if h.saved == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "saved items not configured")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && !savedstore.ValidKind(kind) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("unknown kind %q", kind))
		return
	}

	items, err := h.saved.List(r.Context(), kind, queryLimit(r, 50))
	if err != nil {
		h.writeInternalError(w, r, "failed to list saved items", err)
		return
	}
	if items == nil {
		items = []savedstore.SavedItem{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// writeInternalError logs the cause and writes a generic 500 so internals
// never leak onto the wire.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// --- Shared helpers ---

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := r.PathValue("run_id")
	if runIDStr == "" {
		return uuid.Nil, fmt.Errorf("run_id is required")
	}
	id, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %s", runIDStr)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 200

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
