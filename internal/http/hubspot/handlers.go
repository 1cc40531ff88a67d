package hubspot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	hsclient "hubbridge/internal/clients/hubspot"
	"hubbridge/internal/domain/models"
	"hubbridge/internal/lib/api"
	"hubbridge/internal/lib/logger/sl"
	"hubbridge/internal/services/connection"
)

type Connector interface {
	AuthorizeURL(
		ctx context.Context,
		orgID string,
	) (string, error)
	Connect(
		ctx context.Context,
		code string,
		state string,
	) (*models.Connection, error)
	TestCall(
		ctx context.Context,
		orgID string,
	) (*connection.TestResult, error)
}

type handlerAPI struct {
	logger     *slog.Logger
	connector  Connector
	appBaseURL string
}

// Register mounts the HubSpot routes under /hubspot.
func Register(r *mux.Router, logger *slog.Logger, connector Connector, appBaseURL string) {
	h := &handlerAPI{
		logger:     logger,
		connector:  connector,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
	}

	s := r.PathPrefix("/hubspot").Subrouter()
	s.HandleFunc("/authorize", h.Authorize).Methods(http.MethodGet)
	s.HandleFunc("/callback", h.Callback).Methods(http.MethodGet)
	s.HandleFunc("/test", h.Test).Methods(http.MethodPost)
}

func (h *handlerAPI) Authorize(w http.ResponseWriter, r *http.Request) {
	const op = "http.hubspot.Authorize"
	log := h.logger.With(slog.String("op", op))

	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "org_id is required")
		return
	}

	redirectURL, err := h.connector.AuthorizeURL(r.Context(), orgID)
	if err != nil {
		log.Error("failed to build authorize url", sl.Err(err))
		api.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (h *handlerAPI) Callback(w http.ResponseWriter, r *http.Request) {
	const op = "http.hubspot.Callback"
	log := h.logger.With(slog.String("op", op))

	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		log.Warn("authorization denied by provider",
			slog.String("error", oauthErr),
			slog.String("error_description", q.Get("error_description")),
		)
		api.Error(w, http.StatusBadRequest, oauthErr)
		return
	}

	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		api.Error(w, http.StatusBadRequest, "missing code/state")
		return
	}

	conn, err := h.connector.Connect(r.Context(), code, st)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrInvalidState):
			api.Error(w, http.StatusBadRequest, "invalid state")
		case errors.Is(err, connection.ErrStateExpired):
			api.Error(w, http.StatusBadRequest, "state expired")
		default:
			logUpstream(log, "oauth callback failed", err)
			api.Error(w, http.StatusInternalServerError, "oauth exchange failed")
		}
		return
	}

	v := url.Values{}
	v.Set("provider", conn.Provider)
	v.Set("org_id", conn.OrgID)
	v.Set("portal", strconv.FormatInt(conn.HubID, 10))

	http.Redirect(w, r, h.appBaseURL+"/ok?"+v.Encode(), http.StatusFound)
}

func (h *handlerAPI) Test(w http.ResponseWriter, r *http.Request) {
	const op = "http.hubspot.Test"
	log := h.logger.With(slog.String("op", op))

	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "org_id is required")
		return
	}

	res, err := h.connector.TestCall(r.Context(), orgID)
	if err != nil {
		var apiErr *hsclient.APIError
		switch {
		case errors.Is(err, connection.ErrNotConnected):
			api.Error(w, http.StatusNotFound, "organization is not connected")
		case errors.As(err, &apiErr):
			logUpstream(log, "hubspot test call failed", err)
			api.JSON(w, http.StatusInternalServerError, map[string]any{
				"ok":     false,
				"error":  "hubspot request failed",
				"status": apiErr.StatusCode,
			})
		default:
			log.Error("hubspot test call failed", sl.Err(err))
			api.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     res.ID,
		"portal": res.Portal,
		"email":  res.Email,
	})
}

// logUpstream logs err, adding HubSpot's status and response body when err
// came from the API.
func logUpstream(log *slog.Logger, msg string, err error) {
	var apiErr *hsclient.APIError
	if errors.As(err, &apiErr) {
		log.Error(msg,
			sl.Err(err),
			slog.Int("upstream_status", apiErr.StatusCode),
			slog.String("upstream_body", apiErr.Body),
		)
		return
	}
	log.Error(msg, sl.Err(err))
}
