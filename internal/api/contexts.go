package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
)

// RegistryInvalidator drops a context's cached, compiled schema.Registry so
// the next sync connection recompiles it from the database. main wires this
// to the same cache the sync orchestrator reads through.
type RegistryInvalidator interface {
	Invalidate(contextID uuid.UUID)
}

// ContextHandler implements the `/context` admin routes of spec §6.2:
// tenant lifecycle (create/read/update/delete) and draft publish/revert.
type ContextHandler struct {
	contexts   repository.ContextRepository
	versions   repository.SchemaVersionRepository
	registries RegistryInvalidator
	logger     *zap.Logger
}

// NewContextHandler builds a ContextHandler.
func NewContextHandler(contexts repository.ContextRepository, versions repository.SchemaVersionRepository, registries RegistryInvalidator, logger *zap.Logger) *ContextHandler {
	return &ContextHandler{contexts: contexts, versions: versions, registries: registries, logger: logger}
}

type createContextRequest struct {
	Name string `json:"name"`
	Blob []byte `json:"schema"` // draft version 0 blob, spec §4.2
}

// Create handles POST /context: registers a new tenant with its first draft
// schema blob.
func (h *ContextHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}

	c := &db.Context{Name: req.Name}
	if err := h.contexts.Create(r.Context(), c); err != nil {
		ErrConflict(w, "context already exists")
		return
	}
	sv := &db.SchemaVersion{ContextID: c.ID, Number: 0, Blob: req.Blob}
	if err := h.versions.Create(r.Context(), sv); err != nil {
		h.logger.Error("create draft schema version", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, c)
}

// List handles GET /context.
func (h *ContextHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	contexts, _, err := h.contexts.List(r.Context(), opts)
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, contexts)
}

// GetByID handles GET /context/{uuid}.
func (h *ContextHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	c, err := h.contexts.GetByID(r.Context(), id)
	if err != nil {
		ErrNotFound(w)
		return
	}
	Ok(w, c)
}

// Update handles PUT /context/{uuid}: bumps Edited and stores the request's
// schema blob as a new draft version numbered with the new Edited. It never
// touches Version — only LINK publishes a draft.
func (h *ContextHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var req struct {
		Blob []byte `json:"schema"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.contexts.GetByID(r.Context(), id)
	if err != nil {
		ErrNotFound(w)
		return
	}
	c.Edited++
	if err := h.contexts.Update(r.Context(), c); err != nil {
		ErrInternal(w)
		return
	}
	sv := &db.SchemaVersion{ContextID: c.ID, Number: c.Edited, Blob: req.Blob}
	if err := h.versions.Create(r.Context(), sv); err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, c)
}

// Delete handles DELETE /context/{uuid}: drops the context and every
// schema version beneath it (spec §3: deleting a context cascades).
func (h *ContextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	if err := h.versions.DeleteAbove(r.Context(), id, -1); err != nil {
		ErrInternal(w)
		return
	}
	if err := h.contexts.Delete(r.Context(), id); err != nil {
		ErrNotFound(w)
		return
	}
	if h.registries != nil {
		h.registries.Invalidate(id)
	}
	NoContent(w)
}

// Link handles the LINK `/context/{uuid}` verb (spec §6.2): publishes the
// draft at Edited as the new current Version, then invalidates the running
// server's cached schema.Registry for this context so the next sync
// connection recompiles it from the now-published version.
func (h *ContextHandler) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	c, err := h.contexts.GetByID(r.Context(), id)
	if err != nil {
		ErrNotFound(w)
		return
	}
	c.Version = c.Edited
	if err := h.contexts.Update(r.Context(), c); err != nil {
		ErrInternal(w)
		return
	}
	if h.registries != nil {
		h.registries.Invalidate(id)
	}
	Ok(w, c)
}

// Unlink handles the UNLINK `/context/{uuid}` verb: reverts to the prior
// published version and discards every draft above it (spec §3: "downgrade
// discards all versions > edited").
func (h *ContextHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	c, err := h.contexts.GetByID(r.Context(), id)
	if err != nil {
		ErrNotFound(w)
		return
	}
	if c.Version == 0 {
		ErrBadRequest(w, "no published version to revert to")
		return
	}
	c.Edited = c.Version
	if err := h.contexts.Update(r.Context(), c); err != nil {
		ErrInternal(w)
		return
	}
	if err := h.versions.DeleteAbove(r.Context(), id, c.Version); err != nil {
		ErrInternal(w)
		return
	}
	if h.registries != nil {
		h.registries.Invalidate(id)
	}
	Ok(w, c)
}

// Versions handles GET /context/{uuid}/versions: lists every retained
// schema version number for the context.
func (h *ContextHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	vs, err := h.versions.ListByContext(r.Context(), id)
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, vs)
}

// Version handles GET /context/{uuid}/versions/{n}: fetches a single
// published schema version's blob.
func (h *ContextHandler) Version(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		ErrBadRequest(w, "n must be an integer")
		return
	}
	c, err := h.contexts.GetByID(r.Context(), id)
	if err != nil || n > c.Version {
		ErrNotFound(w)
		return
	}
	sv, err := h.versions.Get(r.Context(), id, n)
	if err != nil {
		ErrNotFound(w)
		return
	}
	Ok(w, sv)
}

// parseUUIDParam reads and parses the named chi URL param as a UUID,
// writing a 400 error response and returning ok=false on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		ErrBadRequest(w, name+" must be a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

// listOptionsFromQuery reads the standard limit/offset query parameters.
func listOptionsFromQuery(r *http.Request) repository.ListOptions {
	opts := repository.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	return opts
}
