// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package restutil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/syncfleet/syncfleet/model"
)

type httpError struct {
	cause  error
	status int
	kind   string
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

// HTTPError create an error with http status code.
func HTTPError(cause error, status int) error {
	return &httpError{
		cause:  cause,
		status: status,
		kind:   model.ErrorKind(cause),
	}
}

// BadRequest convenience method to create http bad request error.
func BadRequest(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusBadRequest,
		kind:   "bad_request",
	}
}

// Forbidden convenience method to create http forbidden error.
func Forbidden(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusForbidden,
		kind:   "forbidden",
	}
}

// CoordError maps an error from the coordinator's taxonomy to the
// matching http status.
func CoordError(cause error) error {
	if cause == nil {
		return nil
	}
	kind := model.ErrorKind(cause)
	var status int
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "bad_request":
		status = http.StatusBadRequest
	case "conflict":
		status = http.StatusConflict
	case "invariant_violation":
		status = http.StatusUnprocessableEntity
	case "storage_unavailable":
		status = http.StatusServiceUnavailable
	case "timeout":
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}
	return &httpError{cause: cause, status: status, kind: kind}
}

// HandlerFunc like http.HandlerFunc, but it returns an error.
// If the returned error is httpError type, httpError.status will be responded,
// otherwise http.StatusInternalServerError responded.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// WrapHandlerFunc convert HandlerFunc to http.HandlerFunc. Errors are
// written as {"status":"error","kind":...,"message":...} bodies.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err != nil {
			status := http.StatusInternalServerError
			kind := model.ErrorKind(err)
			message := err.Error()
			if he, ok := err.(*httpError); ok {
				status = he.status
				kind = he.kind
				if he.cause == nil {
					message = http.StatusText(he.status)
				}
			}
			w.Header().Set("Content-Type", JSONContentType)
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(M{
				"status":  "error",
				"kind":    kind,
				"message": message,
			})
		}
	}
}

// content types
const (
	JSONContentType = "application/json; charset=utf-8"
)

// ParseJSON parse a JSON object using strict mode.
func ParseJSON(r io.Reader, v interface{}) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// WriteJSON response an object in JSON encoding.
func WriteJSON(w http.ResponseWriter, obj interface{}) error {
	w.Header().Set("Content-Type", JSONContentType)
	return json.NewEncoder(w).Encode(obj)
}

// M shortcut for type map[string]interface{}.
type M map[string]interface{}
