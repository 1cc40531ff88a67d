// Package encrypted seals the access and refresh tokens of a connection
// before handing it to the underlying storage.
//
// Tokens are encrypted with XChaCha20-Poly1305 using a key derived from the
// configured secret with HKDF-SHA256; the organization id is bound as
// additional data, so a sealed token copied to another organization does not
// open. Values without the sealed prefix are returned unchanged, which lets a
// store written before encryption was enabled keep working.
package encrypted

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"hubbridge/internal/domain/models"
)

const (
	sealedPrefix = "enc:v1:"
	hkdfInfo     = "hubbridge connection tokens"
)

var ErrEmptyKey = errors.New("encryption key is empty")

type Store interface {
	SaveConnection(ctx context.Context, conn *models.Connection) error
	Connection(ctx context.Context, orgID string) (*models.Connection, error)
}

type Storage struct {
	next Store
	aead cipher.AEAD
}

func New(next Store, key string) (*Storage, error) {
	const op = "storage.encrypted.New"

	if key == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyKey)
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("%s: derive key: %w", op, err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{next: next, aead: aead}, nil
}

func (s *Storage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	const op = "storage.encrypted.SaveConnection"

	access, err := s.seal(conn.OrgID, conn.AccessToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	refresh, err := s.seal(conn.OrgID, conn.RefreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sealed := *conn
	sealed.AccessToken = access
	sealed.RefreshToken = refresh

	return s.next.SaveConnection(ctx, &sealed)
}

func (s *Storage) Connection(ctx context.Context, orgID string) (*models.Connection, error) {
	const op = "storage.encrypted.Connection"

	conn, err := s.next.Connection(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if conn.AccessToken, err = s.open(orgID, conn.AccessToken); err != nil {
		return nil, fmt.Errorf("%s: access token: %w", op, err)
	}
	if conn.RefreshToken, err = s.open(orgID, conn.RefreshToken); err != nil {
		return nil, fmt.Errorf("%s: refresh token: %w", op, err)
	}

	return conn, nil
}

func (s *Storage) seal(orgID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(orgID))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Storage) open(orgID, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	if len(data) < s.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(orgID))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}
