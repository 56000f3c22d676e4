package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// placeholderLogo is served when no logo file exists for a bank code, so
// the deposit screen never shows a broken image.
const placeholderLogo = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" rx="24" fill="#ece9e2"/><path d="M100 48l52 26v10H48v-10zM56 92h16v52H56zm36 0h16v52H92zm36 0h16v52h-16zM48 152h104v12H48z" fill="#8a8578"/></svg>`

// StaticFileServer serves bank logos for deposit instructions. Requests
// name the SMS bank code (kbank.svg, scb.png); unknown codes get a
// placeholder instead of a 404.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(filepath.Clean(r.URL.Path))
		path := filepath.Join(dir, name)

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderLogo))
	})
}
