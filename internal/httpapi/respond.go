package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/unitao/internal/ir"
)

// maxBody caps request bodies.
const maxBody = 8 << 20

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch ir.CodeOf(err) {
	case ir.CodeValidationFailed, ir.CodeBadRequest:
		return http.StatusBadRequest
	case ir.CodeNotFound, ir.CodePathNotFound:
		return http.StatusNotFound
	case ir.CodeConflict, ir.CodeSchemaIncompatible:
		return http.StatusConflict
	case ir.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error body. Internal errors are logged and their
// detail is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusOf(err)
	var e *ir.Error
	if !errors.As(err, &e) {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, status, ir.ErrorBody{Code: "INTERNAL", Message: "internal error"})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, e.Body())
}

// readBody reads a JSON body into v. An empty body leaves v untouched and
// reports false.
func readBody(r *http.Request, v any) (bool, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return false, ir.Errorf(ir.CodeBadRequest, "read body: %v", err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, ir.Errorf(ir.CodeBadRequest, "decode body: %v", err)
	}
	return true, nil
}

// param returns the unescaped chi URL parameter. chi matches on RawPath
// when the request carries escapes.
func param(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", ir.Errorf(ir.CodeBadRequest, "bad %s %q: %v", name, raw, err)
	}
	return v, nil
}

func params(r *http.Request, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		v, err := param(r, n)
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, ir.Errorf(ir.CodeBadRequest, "%s is required", n)
		}
		out[i] = v
	}
	return out, nil
}

func notAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ir.ErrorBody{
		Code:    ir.CodeBadRequest,
		Message: fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ir.ErrorBody{
		Code:    ir.CodeNotFound,
		Message: fmt.Sprintf("no route for %s", r.URL.Path),
	})
}
