package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	hubspothttp "hubbridge/internal/http/hubspot"
	"hubbridge/internal/lib/api"
)

// New builds the HTTP handler of the bridge: the HubSpot routes plus the
// status, health and metrics endpoints.
func New(logger *slog.Logger, connector hubspothttp.Connector, appBaseURL string) http.Handler {
	r := mux.NewRouter()

	// Catch panics and return 500s
	r.Use(gorillaHandlers.RecoveryHandler(
		gorillaHandlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
		gorillaHandlers.PrintRecoveryStack(true),
	))
	r.Use(requestLogger(logger))

	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.HandleFunc("/ok", ok).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	hubspothttp.Register(r, logger, connector, appBaseURL)

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ok is the landing page of a completed authorization; it echoes what the
// callback put in the query string.
func ok(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	api.JSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"provider": q.Get("provider"),
		"org_id":   q.Get("org_id"),
		"portal":   q.Get("portal"),
	})
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", m.Code),
				slog.String("duration", fmt.Sprintf("%dms", m.Duration.Milliseconds())),
			)
		})
	}
}
