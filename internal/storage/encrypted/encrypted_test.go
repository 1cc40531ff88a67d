package encrypted

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubbridge/internal/domain/models"
	"hubbridge/internal/storage"
	"hubbridge/internal/storage/file"
)

func newFileStore(t *testing.T) *file.Storage {
	t.Helper()

	fs, err := file.New(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	return fs
}

func fakeConnection() *models.Connection {
	return &models.Connection{
		OrgID:           gofakeit.UUID(),
		Provider:        models.ProviderHubSpot,
		HubID:           gofakeit.Int64(),
		AccessToken:     gofakeit.LetterN(40),
		RefreshToken:    gofakeit.LetterN(40),
		AccessExpiresAt: time.UnixMilli(time.Now().Add(time.Hour).UnixMilli()),
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	next := newFileStore(t)

	s, err := New(next, "encryption-key")
	require.NoError(t, err)

	conn := fakeConnection()
	require.NoError(t, s.SaveConnection(ctx, conn))

	raw, err := next.Connection(ctx, conn.OrgID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.AccessToken, sealedPrefix))
	assert.True(t, strings.HasPrefix(raw.RefreshToken, sealedPrefix))
	assert.NotContains(t, raw.AccessToken, conn.AccessToken)

	got, err := s.Connection(ctx, conn.OrgID)
	require.NoError(t, err)
	assert.Equal(t, conn, got)
}

func TestStorage_DoesNotMutateInput(t *testing.T) {
	s, err := New(newFileStore(t), "encryption-key")
	require.NoError(t, err)

	conn := fakeConnection()
	access := conn.AccessToken
	require.NoError(t, s.SaveConnection(context.Background(), conn))
	assert.Equal(t, access, conn.AccessToken)
}

func TestStorage_PlaintextPassthrough(t *testing.T) {
	ctx := context.Background()
	next := newFileStore(t)

	conn := fakeConnection()
	require.NoError(t, next.SaveConnection(ctx, conn))

	s, err := New(next, "encryption-key")
	require.NoError(t, err)

	got, err := s.Connection(ctx, conn.OrgID)
	require.NoError(t, err)
	assert.Equal(t, conn.AccessToken, got.AccessToken)
}

func TestStorage_WrongKey(t *testing.T) {
	ctx := context.Background()
	next := newFileStore(t)

	s, err := New(next, "encryption-key")
	require.NoError(t, err)

	conn := fakeConnection()
	require.NoError(t, s.SaveConnection(ctx, conn))

	other, err := New(next, "another-key")
	require.NoError(t, err)

	_, err = other.Connection(ctx, conn.OrgID)
	require.Error(t, err)
}

func TestStorage_NotFound(t *testing.T) {
	s, err := New(newFileStore(t), "encryption-key")
	require.NoError(t, err)

	_, err = s.Connection(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrConnectionNotFound)
}

func TestNew_EmptyKey(t *testing.T) {
	_, err := New(newFileStore(t), "")
	require.ErrorIs(t, err, ErrEmptyKey)
}
