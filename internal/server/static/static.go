// Package static serves the built dashboard client from a single directory.
// Requests may only resolve to regular files inside that directory; unknown
// paths fall back to index.html so client-side routes load the app.
package static

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Handler serves files below root.
type Handler struct {
	root  string
	index string
}

// New returns a Handler for dir. dir must exist and contain index.html.
func New(dir string) (*Handler, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("static: resolve %q: %w", dir, err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("static: resolve %q: %w", dir, err)
	}
	index := filepath.Join(root, "index.html")
	if fi, err := os.Stat(index); err != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("static: %s has no index.html", root)
	}
	return &Handler{root: root, index: index}, nil
}

// Resolve maps a URL path to a file under the root. It reports an error for
// any path that would escape the root, including through symlinks.
func (h *Handler) Resolve(urlPath string) (string, error) {
	if strings.Contains(urlPath, "\x00") || strings.Contains(urlPath, `\`) {
		return "", errors.New("static: invalid path")
	}
	// Reject traversal outright rather than letting Clean absorb it.
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", errors.New("static: path escapes root")
		}
	}
	clean := path.Clean("/" + urlPath)
	full := filepath.Join(h.root, filepath.FromSlash(clean))

	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(h.root, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("static: path escapes root")
	}
	return real, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	file, err := h.Resolve(r.URL.Path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		file = h.index
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	fi, err := os.Stat(file)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if fi.IsDir() {
		file = filepath.Join(file, "index.html")
		if _, err := h.Resolve(path.Join(r.URL.Path, "index.html")); err != nil {
			file = h.index
		}
	}

	f, err := os.Open(file)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	fi, err = f.Stat()
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}
