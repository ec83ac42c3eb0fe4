// Package api implements the admin HTTP surface of spec §6.2: a thin layer
// over contexts, users, and node sessions. It uses Chi as the router.
// Developer requests authenticate via HTTP Basic; user/node endpoints carry
// their credentials in the JSON request body, and no cookie is read or set.
// Error bodies are the single flat
// `{"message": "..."}` shape spec §6.2 names — there is no separate
// machine-readable code field, since the sync client and admin tooling
// both key off the HTTP status alone (spec §6.2's exit-code table).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/beehive-sync/beehive/internal/errs"
)

// JSON writes a JSON-encoded response with the given status code.
// It sets Content-Type to application/json automatically.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with payload as the body.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}

// Created writes a 202 Accepted response (spec §6.2's exit-code table has
// no 201; node/session creation responses use 202 Accepted).
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusAccepted, payload)
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// messageBody is the one error shape spec §6.2 names: `{"message": ...}`.
type messageBody struct {
	Message string `json:"message"`
}

// errJSON writes the flat message-only error body at the given status.
func errJSON(w http.ResponseWriter, status int, message string) {
	JSON(w, status, messageBody{Message: message})
}

// ErrKind writes message at the HTTP status spec §7 assigns to kind, so
// handlers translating a domain error (internal/errs) never hand-pick a
// status code themselves.
func ErrKind(w http.ResponseWriter, kind errs.Kind, message string) {
	errJSON(w, kind.HTTPStatus(), message)
}

// ErrBadRequest writes a 400 ServiceException error response.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message)
}

// ErrUnauthorized writes a 403 AuthenticationException error response (spec
// §6.2's exit-code table has no 401; authentication failures are 403).
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusForbidden, "authentication required")
}

// ErrForbidden writes a 403 AuthenticationException error response.
func ErrForbidden(w http.ResponseWriter) {
	errJSON(w, http.StatusForbidden, "insufficient permissions")
}

// ErrNotFound writes a 404 NotExists error response.
func ErrNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "resource not found")
}

// ErrConflict writes a 409 AlreadyExists error response.
func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message)
}

// ErrUnprocessable writes a 400 ServiceException error response. Used when
// the request is well-formed but fails business validation (spec §6.2 has
// no 422; validation failures fold into the same ServiceException class as
// malformed requests).
func ErrUnprocessable(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message)
}

// ErrInternal writes a 500 error response. The internal error detail is
// intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred")
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}