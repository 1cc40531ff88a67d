package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"hubbridge/internal/clients/hubspot"
	"hubbridge/internal/domain/models"
	"hubbridge/internal/lib/logger/sl"
	"hubbridge/internal/lib/state"
	"hubbridge/internal/storage"
)

const (
	DefaultRefreshSkew = 120 * time.Second

	// upper bound for a refresh shared by several requests
	refreshTimeout = 30 * time.Second
)

type Connection struct {
	logger       *slog.Logger
	stateSigner  StateSigner
	oauth        OAuthClient
	crm          CRMClient
	connSaver    ConnectionSaver
	connProvider ConnectionProvider
	refreshSkew  time.Duration
	refreshes    singleflight.Group
	now          func() time.Time
}

type StateSigner interface {
	Sign(orgID string) (string, error)
	Verify(token string) (*state.Claims, error)
}

type OAuthClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*hubspot.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*hubspot.Token, error)
}

type CRMClient interface {
	CreateContact(
		ctx context.Context,
		accessToken string,
		props hubspot.ContactProperties,
	) (*hubspot.Contact, error)
}

type ConnectionSaver interface {
	SaveConnection(ctx context.Context, conn *models.Connection) error
}

type ConnectionProvider interface {
	Connection(ctx context.Context, orgID string) (*models.Connection, error)
}

// TestResult describes the contact created by TestCall.
type TestResult struct {
	ID     string
	Portal int64
	Email  string
}

var (
	ErrMissingOrgID = errors.New("missing org id")
	ErrInvalidState = errors.New("invalid state")
	ErrStateExpired = errors.New("state expired")
	ErrNotConnected = errors.New("organization is not connected")
)

// New returns a new instance of the Connection service.
func New(
	logger *slog.Logger,
	stateSigner StateSigner,
	oauth OAuthClient,
	crm CRMClient,
	connSaver ConnectionSaver,
	connProvider ConnectionProvider,
	refreshSkew time.Duration,
) *Connection {
	if refreshSkew <= 0 {
		refreshSkew = DefaultRefreshSkew
	}

	return &Connection{
		logger:       logger,
		stateSigner:  stateSigner,
		oauth:        oauth,
		crm:          crm,
		connSaver:    connSaver,
		connProvider: connProvider,
		refreshSkew:  refreshSkew,
		now:          time.Now,
	}
}

// AuthorizeURL returns the HubSpot consent URL for orgID with a freshly
// signed state.
func (c *Connection) AuthorizeURL(ctx context.Context, orgID string) (string, error) {
	const op = "connection.AuthorizeURL"
	log := c.logger.With(slog.String("op", op), slog.String("org_id", orgID))

	if orgID == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingOrgID)
	}

	st, err := c.stateSigner.Sign(orgID)
	if err != nil {
		log.Error("failed to sign state", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("redirecting to hubspot authorization")

	return c.oauth.AuthCodeURL(st), nil
}

// Connect completes the authorization-code grant: it verifies the state,
// exchanges the code and stores the resulting connection.
func (c *Connection) Connect(ctx context.Context, code, st string) (*models.Connection, error) {
	const op = "connection.Connect"
	log := c.logger.With(slog.String("op", op))

	claims, err := c.stateSigner.Verify(st)
	if err != nil {
		log.Warn("state rejected", sl.Err(err))
		if errors.Is(err, state.ErrExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrStateExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidState)
	}

	log = log.With(slog.String("org_id", claims.OrgID))

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		oauthExchanges.WithLabelValues(resultError).Inc()
		log.Error("failed to exchange authorization code", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauthExchanges.WithLabelValues(resultOK).Inc()

	now := c.now()
	conn := &models.Connection{
		OrgID:           claims.OrgID,
		Provider:        models.ProviderHubSpot,
		HubID:           tok.HubID,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		AccessExpiresAt: tok.Expiry,
		UpdatedAt:       now,
	}

	if err := c.connSaver.SaveConnection(ctx, conn); err != nil {
		log.Error("failed to save connection", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("organization connected", slog.Int64("hub_id", conn.HubID))

	return conn, nil
}

// EnsureToken returns the connection of orgID, refreshing its access token
// first when it expires within the refresh skew.
func (c *Connection) EnsureToken(ctx context.Context, orgID string) (*models.Connection, error) {
	const op = "connection.EnsureToken"
	log := c.logger.With(slog.String("op", op), slog.String("org_id", orgID))

	if orgID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingOrgID)
	}

	conn, err := c.connProvider.Connection(ctx, orgID)
	if err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			log.Warn("connection not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
		}
		log.Error("failed to load connection", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !conn.ExpiresWithin(c.now(), c.refreshSkew) {
		return conn, nil
	}

	log.Info("access token expires soon, refreshing", slog.Time("access_expires_at", conn.AccessExpiresAt))

	conn, err = c.refresh(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return conn, nil
}

// TestCall exercises the connection by creating a contact with a unique
// email. A 401 answer is retried exactly once after a forced refresh.
func (c *Connection) TestCall(ctx context.Context, orgID string) (*TestResult, error) {
	const op = "connection.TestCall"
	log := c.logger.With(slog.String("op", op), slog.String("org_id", orgID))

	conn, err := c.EnsureToken(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	props := hubspot.ContactProperties{
		Email:     fmt.Sprintf("hubbridge-test+%d@example.com", c.now().UnixMilli()),
		FirstName: "HubBridge",
		LastName:  "Test",
	}

	contact, err := c.crm.CreateContact(ctx, conn.AccessToken, props)
	if hubspot.IsUnauthorized(err) {
		crmRequests.WithLabelValues(resultUnauthorized).Inc()
		log.Warn("access token rejected, refreshing and retrying once", sl.Err(err))

		conn, err = c.refresh(ctx, conn)
		if err != nil {
			crmRequests.WithLabelValues(resultError).Inc()
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		contact, err = c.crm.CreateContact(ctx, conn.AccessToken, props)
	}
	if err != nil {
		crmRequests.WithLabelValues(resultError).Inc()
		log.Error("failed to create test contact", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	crmRequests.WithLabelValues(resultOK).Inc()

	log.Info("test contact created", slog.String("contact_id", contact.ID), slog.Int64("hub_id", conn.HubID))

	return &TestResult{
		ID:     contact.ID,
		Portal: conn.HubID,
		Email:  props.Email,
	}, nil
}

// refresh runs the refresh-token grant for conn and stores the result.
// Concurrent refreshes of the same organization share one upstream call. The
// shared call is detached from the caller's cancellation so that a caller
// going away does not fail the others waiting on it; each caller still stops
// waiting when its own ctx is done.
func (c *Connection) refresh(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	const op = "connection.refresh"
	log := c.logger.With(slog.String("op", op), slog.String("org_id", conn.OrgID))

	ch := c.refreshes.DoChan(conn.OrgID, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tok, err := c.oauth.Refresh(sharedCtx, conn.RefreshToken)
		if err != nil {
			tokenRefreshes.WithLabelValues(resultError).Inc()
			log.Error("failed to refresh access token", sl.Err(err))
			return nil, err
		}
		tokenRefreshes.WithLabelValues(resultOK).Inc()

		refreshed := *conn
		refreshed.AccessToken = tok.AccessToken
		refreshed.RefreshToken = tok.RefreshToken
		refreshed.AccessExpiresAt = tok.Expiry
		refreshed.UpdatedAt = c.now()
		if tok.HubID != 0 {
			refreshed.HubID = tok.HubID
		}

		if err := c.connSaver.SaveConnection(sharedCtx, &refreshed); err != nil {
			log.Error("failed to save refreshed connection", sl.Err(err))
			return nil, err
		}

		log.Info("access token refreshed", slog.Time("access_expires_at", refreshed.AccessExpiresAt))

		return &refreshed, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		if res.Shared {
			log.Debug("joined in-flight refresh")
		}
		return res.Val.(*models.Connection), nil
	}
}
