package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"hubbridge/internal/domain/models"
	"hubbridge/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	if err := os.MkdirAll(filepath.Dir(storagePath), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// Migrate applies the embedded schema migrations. Running it on an up to date
// database is a no-op.
func (s *Storage) Migrate() error {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("%s: source: %w", op, err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s: driver: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	const op = "storage.sqlite.SaveConnection"

	updatedAt := conn.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (org_id, provider, hub_id, access_token, refresh_token, access_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id) DO UPDATE SET
			provider = excluded.provider,
			hub_id = excluded.hub_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			access_expires_at = excluded.access_expires_at,
			updated_at = excluded.updated_at`,
		conn.OrgID,
		conn.Provider,
		conn.HubID,
		conn.AccessToken,
		conn.RefreshToken,
		conn.AccessExpiresAt.UnixMilli(),
		updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Connection(ctx context.Context, orgID string) (*models.Connection, error) {
	const op = "storage.sqlite.Connection"

	row := s.db.QueryRowContext(ctx, `
		SELECT org_id, provider, hub_id, access_token, refresh_token, access_expires_at, updated_at
		FROM connections WHERE org_id = ?`, orgID)

	var (
		conn                 models.Connection
		expiresAt, updatedAt int64
	)
	err := row.Scan(&conn.OrgID, &conn.Provider, &conn.HubID, &conn.AccessToken, &conn.RefreshToken, &expiresAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrConnectionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn.AccessExpiresAt = time.UnixMilli(expiresAt)
	conn.UpdatedAt = time.UnixMilli(updatedAt)

	return &conn, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
