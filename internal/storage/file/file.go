// Package file keeps connections in a single JSON document on local disk,
// mapping organization id to token record.
//
// Every save holds an exclusive advisory lock on "<path>.lock", re-reads the
// document, replaces the one changed record and writes the result through a
// temp file and rename, so processes sharing the file do not lose each
// other's records. Reads take the lock shared and load the current document.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sdassow/atomic"

	"hubbridge/internal/domain/models"
	"hubbridge/internal/storage"
)

const fileMode = 0o600

// record is the on-disk shape of a connection. access_expires_at is Unix
// milliseconds.
type record struct {
	Provider        string `json:"provider"`
	HubID           int64  `json:"hub_id"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresAt int64  `json:"access_expires_at"`
	UpdatedAt       int64  `json:"updated_at,omitempty"`
}

type Storage struct {
	path string
	lock *flock.Flock

	// serializes this process; lock serializes processes
	mu sync.Mutex
}

// New opens the store at path. A missing file is an empty store.
func New(path string) (*Storage, error) {
	const op = "storage.file.New"

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Storage{
		path: path,
		lock: flock.New(path + ".lock"),
	}

	if _, err := s.load(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

// SaveConnection inserts or replaces the connection of conn.OrgID and
// rewrites the file.
func (s *Storage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	const op = "storage.file.SaveConnection"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%s: lock %s: %w", op, s.lock.Path(), err)
	}
	defer s.lock.Unlock()

	records, err := s.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	records[conn.OrgID] = toRecord(conn)

	if err := s.write(records); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Connection returns the stored connection of orgID.
func (s *Storage) Connection(ctx context.Context, orgID string) (*models.Connection, error) {
	const op = "storage.file.Connection"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("%s: lock %s: %w", op, s.lock.Path(), err)
	}
	defer s.lock.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, ok := records[orgID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrConnectionNotFound)
	}

	return rec.toModel(orgID), nil
}

// Close releases the file lock handle.
func (s *Storage) Close() error {
	return s.lock.Close()
}

// load reads the document from disk. A missing or blank file is empty.
func (s *Storage) load() (map[string]record, error) {
	records := make(map[string]record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	return records, nil
}

// write must be called with the file lock held.
func (s *Storage) write(records map[string]record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(data), atomic.DefaultFileMode(fileMode)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}

	return nil
}

func toRecord(conn *models.Connection) record {
	rec := record{
		Provider:        conn.Provider,
		HubID:           conn.HubID,
		AccessToken:     conn.AccessToken,
		RefreshToken:    conn.RefreshToken,
		AccessExpiresAt: conn.AccessExpiresAt.UnixMilli(),
	}
	if !conn.UpdatedAt.IsZero() {
		rec.UpdatedAt = conn.UpdatedAt.UnixMilli()
	}
	return rec
}

func (r record) toModel(orgID string) *models.Connection {
	conn := &models.Connection{
		OrgID:           orgID,
		Provider:        r.Provider,
		HubID:           r.HubID,
		AccessToken:     r.AccessToken,
		RefreshToken:    r.RefreshToken,
		AccessExpiresAt: time.UnixMilli(r.AccessExpiresAt),
	}
	if r.UpdatedAt != 0 {
		conn.UpdatedAt = time.UnixMilli(r.UpdatedAt)
	}
	return conn
}
