package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/meridian/pkg/formatting"
	"github.com/JaimeStill/meridian/pkg/handlers"
	"github.com/JaimeStill/meridian/pkg/pagination"
	"github.com/JaimeStill/meridian/pkg/routes"
)

// Handler provides HTTP endpoints for run operations.
type Handler struct {
	sys             System
	logger          *slog.Logger
	pagination      pagination.Config
	maxManifestSize int64
}

// NewHandler creates a Handler with the given system, logger, pagination config, and manifest size limit.
func NewHandler(
	sys System,
	logger *slog.Logger,
	pagination pagination.Config,
	maxManifestSize int64,
) *Handler {
	return &Handler{
		sys:             sys,
		logger:          logger.With("handler", "runs"),
		pagination:      pagination,
		maxManifestSize: maxManifestSize,
	}
}

// Routes returns the route group definition for run endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/runs",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List, Doc: docs.list},
			{Method: "POST", Pattern: "", Handler: h.Submit, Doc: docs.submit},
			{Method: "POST", Pattern: "/upload", Handler: h.Upload, Doc: docs.upload},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find, Doc: docs.find},
			{Method: "GET", Pattern: "/{id}/steps", Handler: h.Steps, Doc: docs.steps},
			{Method: "POST", Pattern: "/{id}/cancel", Handler: h.Cancel, Doc: docs.cancel},
			{Method: "GET", Pattern: "/{id}/failures", Handler: h.Failures, Doc: docs.failures},
		},
	}
}

// List returns a page of runs filtered by status, state, workflow_type, and input_file.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single run.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	run, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, run)
}

// Steps returns the recorded transitions of a run in order.
func (h *Handler) Steps(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	steps, err := h.sys.Steps(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, steps)
}

// Submit accepts a JSON SubmitCommand for a manifest already in storage.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var cmd SubmitCommand
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidInput, err))
		return
	}

	run, err := h.sys.Submit(r.Context(), cmd)
	h.respondSubmitted(w, run, err)
}

// Upload accepts a multipart manifest in the "file" field, with an optional
// "failure_file" field, then submits it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxManifestSize+1<<20)
	if err := r.ParseMultipartForm(h.maxManifestSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, h.tooLarge())
			return
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: file required", ErrInvalidInput))
		return
	}
	defer file.Close()

	if header.Size > h.maxManifestSize {
		handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, h.tooLarge())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidInput, err))
		return
	}

	cmd := UploadCommand{
		Data:        data,
		Filename:    header.Filename,
		ContentType: detectContentType(header.Header.Get("Content-Type"), header.Filename, data),
		FailureFile: r.FormValue("failure_file"),
	}

	run, err := h.sys.Upload(r.Context(), cmd)
	h.respondSubmitted(w, run, err)
}

// Cancel requests cancellation of a pending or running run.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	run, err := h.sys.Cancel(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, run)
}

// Failures streams the run's failure file as an attachment.
func (h *Handler) Failures(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	obj, err := h.sys.Failures(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "failures-"+id.String()))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("failure file stream interrupted", "id", id, "error", err)
	}
}

func (h *Handler) respondSubmitted(w http.ResponseWriter, run *Run, err error) {
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	w.Header().Set("Location", "runs/"+run.ID.String())
	handlers.RespondJSON(w, http.StatusAccepted, run)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: malformed run id", ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) tooLarge() error {
	return fmt.Errorf("%w (%s)", ErrManifestTooLarge, formatting.FormatBytes(h.maxManifestSize, 1))
}

func detectContentType(header, filename string, data []byte) string {
	header = strings.TrimSpace(header)
	if header != "" && header != "application/octet-stream" {
		return header
	}
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
