package uistatic

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:app
var consoleFS embed.FS

// Handler serves the embedded web console. Unknown paths fall back to
// index.html so client-side links keep working.
func Handler() http.Handler {
	sub, err := fs.Sub(consoleFS, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	return handlerFor(sub)
}

func handlerFor(console fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(console))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" || cleanPath == "index.html" {
			serveIndex(w, r, console)
			return
		}
		if strings.HasPrefix(cleanPath, "v1/") {
			http.NotFound(w, r)
			return
		}

		if _, err := fs.Stat(console, cleanPath); err == nil {
			fileServer.ServeHTTP(w, r)
			return
		}
		serveIndex(w, r, console)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request, console fs.FS) {
	index, err := console.Open("index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = index.Close() }()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.Copy(w, index)
}
