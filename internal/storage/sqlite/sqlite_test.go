package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubbridge/internal/domain/models"
	"hubbridge/internal/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "hubbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate())
	return s
}

func TestStorage_Migrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate())
}

func TestStorage_SaveConnection_Upsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	conn := &models.Connection{
		OrgID:           gofakeit.UUID(),
		Provider:        models.ProviderHubSpot,
		HubID:           gofakeit.Int64(),
		AccessToken:     gofakeit.LetterN(24),
		RefreshToken:    gofakeit.LetterN(24),
		AccessExpiresAt: time.UnixMilli(time.Now().Add(time.Hour).UnixMilli()),
		UpdatedAt:       time.UnixMilli(time.Now().UnixMilli()),
	}
	require.NoError(t, s.SaveConnection(ctx, conn))

	got, err := s.Connection(ctx, conn.OrgID)
	require.NoError(t, err)
	assert.Equal(t, conn, got)

	conn.AccessToken = "refreshed"
	conn.AccessExpiresAt = time.UnixMilli(time.Now().Add(2 * time.Hour).UnixMilli())
	require.NoError(t, s.SaveConnection(ctx, conn))

	got, err = s.Connection(ctx, conn.OrgID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", got.AccessToken)
	assert.Equal(t, conn.AccessExpiresAt, got.AccessExpiresAt)
}

func TestStorage_Connection_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Connection(context.Background(), gofakeit.UUID())
	require.ErrorIs(t, err, storage.ErrConnectionNotFound)
}

func TestNew_CreatesParentDir(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "data", "nested", "hubbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate())
}
