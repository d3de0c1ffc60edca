package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"

	"streambridge/api"
	"streambridge/config"
	"streambridge/handlers"
	"streambridge/services/extraction"
	"streambridge/services/metadata"
	"streambridge/services/proxy"
	"streambridge/services/stealth"
	"streambridge/services/subtitles"
)

func main() {
	configFlag := flag.String("config", "", "path to settings file (default $STREAMBRIDGE_CONFIG or ./config.json)")
	portOverride := flag.Int("port", 0, "override server port from config")
	noBrowser := flag.Bool("no-browser", false, "disable the headless browser mode, extract over HTTP only")
	flag.Parse()

	fmt.Println("streambridge starting...")

	cfgManager := config.NewManager(*configFlag)
	if err := cfgManager.Load(); err != nil {
		log.Printf("failed to load settings: %v", err)
		os.Exit(1)
	}
	settings := cfgManager.Get()

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}
	if *noBrowser {
		settings.Extraction.BrowserModeEnabled = false
	}

	// Extraction pipeline: stealth fingerprints feed both modes; the browser
	// mode is primary when enabled, HTTP mode is the fallback.
	fingerprintPool := stealth.NewPool(settings.Extraction.FingerprintPoolSize)

	engCfg := extraction.DefaultEngineConfig()
	if len(settings.Extraction.Servers) > 0 {
		engCfg.Servers = settings.Extraction.Servers
	}
	engCfg.PlayButtonSelectors = append(engCfg.PlayButtonSelectors, settings.Extraction.PlayButtonSelectors...)
	if settings.Extraction.StageTimeoutSec > 0 {
		engCfg.StageTimeout = time.Duration(settings.Extraction.StageTimeoutSec) * time.Second
	}
	if settings.Extraction.FinalStageTimeoutSec > 0 {
		engCfg.FinalStageTimeout = time.Duration(settings.Extraction.FinalStageTimeoutSec) * time.Second
	}

	ctrlCfg := extraction.DefaultControllerConfig()
	if settings.Extraction.MaxRetries > 0 {
		ctrlCfg.MaxAttempts = settings.Extraction.MaxRetries + 1
	}
	if settings.Extraction.AttemptTimeoutSec > 0 {
		ctrlCfg.AttemptTimeout = time.Duration(settings.Extraction.AttemptTimeoutSec) * time.Second
	}
	if settings.Cache.ExtractionCapacity > 0 {
		ctrlCfg.ResultCapacity = settings.Cache.ExtractionCapacity
	}
	if settings.Cache.ExtractionTTLMinutes > 0 {
		ctrlCfg.ResultTTL = time.Duration(settings.Cache.ExtractionTTLMinutes) * time.Minute
	}

	var browserMode *extraction.BrowserMode
	modes := make([]extraction.Mode, 0, 2)
	if settings.Extraction.BrowserModeEnabled {
		browserMode = extraction.NewBrowserMode(engCfg, settings.Extraction.BrowserPoolSize)
		modes = append(modes, browserMode)
		log.Printf("[main] browser mode enabled, pool size %d", settings.Extraction.BrowserPoolSize)
	} else {
		log.Printf("[main] browser mode disabled, extraction runs HTTP-only")
	}
	modes = append(modes, extraction.NewHTTPMode(engCfg, nil))

	engine := extraction.NewEngine(modes...)
	controller := extraction.NewController(ctrlCfg, engCfg, engine, fingerprintPool)

	proxyService := proxy.NewService(nil)
	metadataService := metadata.NewService(settings.Metadata.APIKey, settings.Metadata.Language, nil)
	if settings.Metadata.APIKey == "" {
		log.Printf("[main] no TMDB API key configured; metadata lookups disabled")
	}
	subtitleService := subtitles.NewService(settings.Subtitles.APIKey, nil)
	subtitleService.ConfigureBlobCache(settings.Cache.SubtitleCapacity,
		time.Duration(settings.Cache.SubtitleTTLMinutes)*time.Minute)

	extractHandler := handlers.NewExtractHandler(controller, metadataService, subtitleService, settings.Subtitles.Languages)
	extractHandler.SetBaseURL(settings.Extraction.BaseURL)
	streamProxyHandler := handlers.NewStreamProxyHandler(proxyService)
	subtitlesHandler := handlers.NewSubtitlesHandler(subtitleService)
	tmdbHandler := handlers.NewTMDBHandler(metadataService)

	r := mux.NewRouter()
	api.Register(r, extractHandler, streamProxyHandler, subtitlesHandler, tmdbHandler)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","servers":%d,"cached_results":%d}`, len(controller.Servers()), controller.CacheLen())
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", settings.Server.Port)

	// Bind before serving so a taken port fails fast with a distinct exit code.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("failed to bind %s: %v", addr, err)
		os.Exit(2)
	}
	fmt.Printf("Server listening on %s\n", addr)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      0, // No write timeout for streaming
		IdleTimeout:       120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if browserMode != nil {
		log.Println("Closing browser pool...")
		browserMode.Close()
	}
	controller.PurgeCache()

	log.Println("Shutdown complete")
}
