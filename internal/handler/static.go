package handler

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

//go:embed static
var staticFiles embed.FS

// AssetHandler serves the embedded page assets under a chi wildcard route.
// Directory listings are not served.
type AssetHandler struct {
	files fs.FS
}

func NewAssetHandler() *AssetHandler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return &AssetHandler{files: sub}
}

func (h *AssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" || strings.HasSuffix(name, "/") {
		http.NotFound(w, r)
		return
	}

	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	info, err := fs.Stat(h.files, name)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFileFS(w, r, h.files, name)
}
