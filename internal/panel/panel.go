package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web
var content embed.FS

// DefaultIndex is the page served at "/".
const DefaultIndex = "index.html"

// staticPrefix is the only subtree served besides the index.
const staticPrefix = "static/"

// FileSystem returns dir when it is an existing directory, otherwise the
// embedded assets.
// Panics if the embedded web assets cannot be loaded (build error).
func FileSystem(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}

	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return webFS
}

// Handler returns an http.Handler serving the live-view page from
// FileSystem(dir). "/" serves index; "/static/..." serves assets. Missing
// files and other paths go to notFound.
func Handler(dir, index string, notFound http.Handler) http.Handler {
	if index == "" {
		index = DefaultIndex
	}
	fsys := FileSystem(dir)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean(r.URL.Path)

		var name string
		switch {
		case upath == "/":
			name = index
		case strings.HasPrefix(upath, "/"+staticPrefix):
			name = strings.TrimPrefix(upath, "/")
		default:
			notFound.ServeHTTP(w, r)
			return
		}

		info, err := fs.Stat(fsys, name)
		if err != nil || info.IsDir() {
			notFound.ServeHTTP(w, r)
			return
		}

		// Assets are not content-hashed, so browsers must revalidate.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		http.ServeFileFS(w, r, fsys, name)
	})
}
