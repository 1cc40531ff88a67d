// Package hubspot talks to HubSpot's hosted OAuth and CRM endpoints.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL    = "https://app.hubspot.com/oauth/authorize"
	DefaultAPIBaseURL = "https://api.hubapi.com"
	DefaultTimeout    = 8 * time.Second

	tokenPath     = "/oauth/v1/token"
	tokenInfoPath = "/oauth/v1/access-tokens/"
	contactsPath  = "/crm/v3/objects/contacts"

	// upstream bodies are kept for logging; anything longer is cut
	maxErrorBody = 64 << 10
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	APIBaseURL   string
	Timeout      time.Duration
}

// Token is the result of a code exchange or refresh grant.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	// HubID is zero when the response did not carry it.
	HubID int64
}

type ContactProperties struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
}

type Contact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// APIError is a non-2xx answer from HubSpot.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a 401 answer from HubSpot.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type Client struct {
	oauth      *oauth2.Config
	http       *http.Client
	apiBaseURL string
}

func New(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  apiBaseURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:       &http.Client{Timeout: cfg.Timeout},
		apiBaseURL: apiBaseURL,
	}
}

// AuthCodeURL returns the HubSpot consent page URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and resolves the hub id
// the grant belongs to.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	const op = "hubspot.Exchange"

	ctx = c.withHTTPClient(ctx)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, asAPIError(err))
	}

	res := fromOAuth2(tok)
	if res.HubID == 0 {
		hubID, err := c.tokenHubID(ctx, res.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res.HubID = hubID
	}

	return res, nil
}

// Refresh performs a refresh-token grant. When HubSpot does not rotate the
// refresh token, the one passed in is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	const op = "hubspot.Refresh"

	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, asAPIError(err))
	}

	res := fromOAuth2(tok)
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}

	return res, nil
}

// CreateContact creates a CRM contact on behalf of the access token's hub.
func (c *Client) CreateContact(ctx context.Context, accessToken string, props ContactProperties) (*Contact, error) {
	const op = "hubspot.CreateContact"

	body, err := json.Marshal(struct {
		Properties ContactProperties `json:"properties"`
	}{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+contactsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	var contact Contact
	if err := c.do(req, &contact); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &contact, nil
}

// tokenHubID looks up the hub an access token belongs to.
func (c *Client) tokenHubID(ctx context.Context, accessToken string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+tokenInfoPath+url.PathEscape(accessToken), nil)
	if err != nil {
		return 0, err
	}

	var info struct {
		HubID int64 `json:"hub_id"`
	}
	if err := c.do(req, &info); err != nil {
		return 0, fmt.Errorf("token info: %w", err)
	}

	return info.HubID, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func fromOAuth2(tok *oauth2.Token) *Token {
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		HubID:        hubIDFromExtra(tok.Extra("hub_id")),
	}
}

func hubIDFromExtra(v any) int64 {
	switch id := v.(type) {
	case float64:
		return int64(id)
	case json.Number:
		n, _ := id.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(id, 10, 64)
		return n
	default:
		return 0
	}
}

// asAPIError converts the oauth2 package's token endpoint error so callers
// see one error type for every upstream failure.
func asAPIError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &APIError{StatusCode: re.Response.StatusCode, Body: string(re.Body)}
	}
	return err
}
