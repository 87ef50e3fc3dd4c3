// Package assets serves the embedded fleet dashboard.
// The page is plain HTML and script; no build step is involved.
package assets

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

func init() {
	// Errors only occur for malformed extensions; these literals are fine.
	_ = mime.AddExtensionType(".map", "application/json")
	_ = mime.AddExtensionType(".webmanifest", "application/manifest+json")
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the standard library's MIME database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".map":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// Index returns the dashboard page.
func Index() []byte {
	data, err := fs.ReadFile(distFS, "dist/index.html")
	if err != nil {
		panic("assets: missing dist/index.html: " + err.Error())
	}
	return data
}

// FileServer returns an http.Handler that serves embedded assets from dist/.
// The handler expects paths relative to the dist root (strip /static/ before calling).
func FileServer() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(path.Ext(r.URL.Path))
		if ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		// The dashboard ships with the binary, so a restart is the only
		// time its files change.
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}
