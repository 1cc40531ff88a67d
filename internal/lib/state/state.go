// Package state issues and verifies the signed state parameter that is
// round-tripped through the HubSpot authorization redirect.
//
// A state token is a compact HS256 JWT: a base64url JSON payload carrying the
// organization id, the issue time in Unix milliseconds and a random nonce,
// followed by an HMAC-SHA256 signature. Nothing is stored server side.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 10 * time.Minute

const (
	claimOrgID = "org_id"
	claimTS    = "ts"
	claimNonce = "nonce"
)

var (
	ErrInvalid = errors.New("invalid state")
	ErrExpired = errors.New("state expired")
)

// Claims is the verified content of a state token.
type Claims struct {
	OrgID    string
	IssuedAt time.Time
	Nonce    string
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New returns a Signer. A non-positive ttl falls back to DefaultTTL.
func New(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign creates a state token for orgID.
func (s *Signer) Sign(orgID string) (string, error) {
	const op = "state.Sign"

	if orgID == "" {
		return "", fmt.Errorf("%s: empty org id", op)
	}

	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.MapClaims{
			claimOrgID: orgID,
			claimTS:    s.now().UnixMilli(),
			claimNonce: uuid.NewString(),
		})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Verify checks the signature of a state token and that it is not older
// than the signer's TTL.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	const op = "state.Verify"

	token, err := jwt.Parse(
		tokenString,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalid, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalid)
	}

	orgID, _ := mc[claimOrgID].(string)
	nonce, _ := mc[claimNonce].(string)
	ts, ok := mc[claimTS].(float64)
	if orgID == "" || nonce == "" || !ok {
		return nil, fmt.Errorf("%s: %w: missing claims", op, ErrInvalid)
	}

	issuedAt := time.UnixMilli(int64(ts))
	if s.now().Sub(issuedAt) > s.ttl {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}

	return &Claims{
		OrgID:    orgID,
		IssuedAt: issuedAt,
		Nonce:    nonce,
	}, nil
}
