package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// webIndex is served for requests naming a directory.
const webIndex = "index.lua"

// handleWeb runs the web script under the web root named by the request path.
// The script writes the response itself.
func (s *Server) handleWeb(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += webIndex
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		writeNotFound(w, "not found")
		return
	}

	path := filepath.Join(s.webRoot, filepath.FromSlash(rel))
	if !s.engine.SupportsScript(path) {
		writeNotFound(w, "not found")
		return
	}
	if code := s.engine.ExecuteWebRequest(r.Context(), path, w, r); code < 0 {
		writeNotFound(w, "not found")
	}
}
