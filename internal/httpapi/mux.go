package httpapi

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
)

//go:embed assets
var assetsFS embed.FS

type Deps struct {
	// StaticDir replaces the embedded dashboard when set.
	StaticDir string
	Live      http.Handler
	// Health is optional and reports whether the warm store answers.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

func NewMux(deps Deps) (*http.ServeMux, error) {
	assets, err := dashboardFS(deps.StaticDir)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.Health, deps.Logger)
	registerDashboard(mux, assets)
	if deps.Live != nil {
		mux.Handle("GET /ws", deps.Live)
	}
	return mux, nil
}

func dashboardFS(staticDir string) (fs.FS, error) {
	if staticDir == "" {
		return fs.Sub(assetsFS, "assets")
	}
	fi, err := os.Stat(staticDir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("static dir %s is not a directory", staticDir)
	}
	return os.DirFS(staticDir), nil
}

func registerDashboard(mux *http.ServeMux, assets fs.FS) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, assets, "index.html")
	})
	files := http.FileServerFS(assets)
	mux.Handle("GET /style.css", files)
	mux.Handle("GET /script.js", files)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		http.ServeFileFS(w, r, assets, "favicon.png")
	})
}
