package state

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "state-test-secret"

func newTestSigner(now time.Time) *Signer {
	s := New(testSecret, DefaultTTL)
	s.now = func() time.Time { return now }
	return s
}

func TestSignVerify_RoundTrip(t *testing.T) {
	now := time.Now()
	s := newTestSigner(now)
	orgID := gofakeit.UUID()

	token, err := s.Sign(orgID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Len(t, strings.Split(token, "."), 3)

	s.now = func() time.Time { return now.Add(9 * time.Minute) }

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, orgID, claims.OrgID)
	assert.NotEmpty(t, claims.Nonce)
	assert.Equal(t, now.UnixMilli(), claims.IssuedAt.UnixMilli())
}

func TestSign_UniqueNonce(t *testing.T) {
	s := New(testSecret, 0)
	orgID := gofakeit.Username()

	first, err := s.Sign(orgID)
	require.NoError(t, err)
	second, err := s.Sign(orgID)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSign_EmptyOrgID(t *testing.T) {
	_, err := New(testSecret, 0).Sign("")
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Now()
	s := newTestSigner(now)

	token, err := s.Sign(gofakeit.UUID())
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(10*time.Minute + time.Second) }

	_, err = s.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_TamperedPayload(t *testing.T) {
	s := newTestSigner(time.Now())

	token, err := s.Sign("org-1")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	payload["org_id"] = "org-2"

	forged, err := json.Marshal(payload)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	_, err = s.Verify(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_TamperedSignature(t *testing.T) {
	s := newTestSigner(time.Now())

	token, err := s.Sign("org-1")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)

	_, err = s.Verify(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := New("other-secret", 0).Sign("org-1")
	require.NoError(t, err)

	_, err = New(testSecret, 0).Verify(token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_Malformed(t *testing.T) {
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := New(testSecret, 0).Verify(token)
		assert.ErrorIs(t, err, ErrInvalid, "token %q", token)
	}
}
