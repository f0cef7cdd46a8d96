// internal/api/handler/archive.go

// Package handler serves files out of archive objects over HTTP.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/megfs/meg/internal/api/response"
	"github.com/megfs/meg/internal/core"
	"github.com/megfs/meg/internal/planner"
)

// ArchiveHandler resolves /<archive>/<inner_path> requests through the
// planner.
type ArchiveHandler struct {
	planner       *planner.Planner
	forceDownload bool
	logger        *zap.Logger
}

// NewArchiveHandler creates the handler.
func NewArchiveHandler(p *planner.Planner, forceDownload bool, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{planner: p, forceDownload: forceDownload, logger: logger}
}

func (h *ArchiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		response.Error(w, http.StatusMethodNotAllowed,
			core.WrapError(core.ErrReadOnly, fmt.Errorf("%s not supported", r.Method)))
		return
	}

	archive, inner := splitArchivePath(r.URL.Path)
	if archive == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	req := planner.Request{
		Archive:   archive,
		InnerPath: inner,
		BodyTTL:   parseTTL(r.URL.Query().Get("ttl")),
	}

	res, err := h.planner.Serve(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	if h.forceDownload {
		name := path.Base(inner)
		if inner == "" {
			name = path.Base(archive)
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(res.Body)
	}
}

func (h *ArchiveHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		response.Error(w, status, err)
		return
	}

	if errors.Is(err, core.ErrUnknownFormat) {
		response.Error(w, status, err)
		return
	}
	// Plain not-found responses carry no body.
	w.WriteHeader(status)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrArchiveNotFound),
		errors.Is(err, core.ErrEntryNotFound),
		errors.Is(err, core.ErrUnknownFormat),
		errors.Is(err, core.ErrLoopDetected):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// splitArchivePath separates the first URL segment from the rest.
func splitArchivePath(p string) (archive, inner string) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ""
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

// parseTTL reads a per-request body cache TTL in seconds. Malformed or
// missing values fall back to the default.
func parseTTL(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
