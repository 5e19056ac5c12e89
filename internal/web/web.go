// Package web serves the service's static pages.
package web

import (
	"embed"
	"net/http"
)

//go:embed public
var public embed.FS

func Index(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, public, "public/index.html")
}

func Failure(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, public, "public/failure.html")
}
