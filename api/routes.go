package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"

	"streambridge/handlers"
)

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		// Strip port if present
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		// Allow localhost, 127.0.0.1, ::1
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		// Handle preflight requests
		if r.Method == http.MethodOptions && r.URL.Path != "/api/stream-proxy" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	extractHandler *handlers.ExtractHandler,
	streamProxyHandler *handlers.StreamProxyHandler,
	subtitlesHandler *handlers.SubtitlesHandler,
	tmdbHandler *handlers.TMDBHandler,
) {
	api := r.PathPrefix("/api").Subrouter()

	// Add CORS middleware to API subrouter
	api.Use(corsMiddleware)

	api.HandleFunc("/extract-shadowlands", extractHandler.Extract).
		Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/extract-shadowlands/progress", extractHandler.Progress).
		Methods(http.MethodGet, http.MethodOptions)

	// The proxy owns its OPTIONS handling: preflight responses must carry
	// the Range allowance players probe for.
	api.HandleFunc("/stream-proxy", streamProxyHandler.Proxy).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	api.HandleFunc("/subtitles", subtitlesHandler.List).
		Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/subtitles/download", subtitlesHandler.Download).
		Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/tmdb", tmdbHandler.Lookup).
		Methods(http.MethodGet, http.MethodOptions)

	// Pprof debug endpoints for profiling (localhost only)
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/allocs", pprof.Handler("allocs").ServeHTTP)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)
}
