package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chat_errors "marketplace-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Source yields the bearer credential for the current user, or
// chat_errors.ErrNoCredential when nobody is signed in.
type Source interface {
	Credential(ctx context.Context) (string, error)
}

// Claims is the subset of the marketplace token we read on the client.
type Claims struct {
	UserID    uuid.UUID
	Email     string
	Name      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Inspect decodes the token without verifying its signature. The server is
// the only party that verifies; the client only needs identity and expiry.
func Inspect(token string) (Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", chat_errors.ErrInvalidInput, err)
	}
	claims := Claims{Email: tc.Email, Name: tc.Name}
	if tc.Subject != "" {
		id, err := uuid.Parse(tc.Subject)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: subject is not a user id", chat_errors.ErrInvalidInput)
		}
		claims.UserID = id
	}
	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}
	return claims, nil
}

// Expired reports whether token carries an exp claim in the past. Tokens that
// cannot be decoded are left for the server to reject.
func Expired(token string, now time.Time) bool {
	claims, err := Inspect(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(claims.ExpiresAt)
}

// SelfID returns the user id of the current credential, or uuid.Nil.
func SelfID(ctx context.Context, src Source) uuid.UUID {
	if src == nil {
		return uuid.Nil
	}
	token, err := src.Credential(ctx)
	if err != nil {
		return uuid.Nil
	}
	claims, err := Inspect(token)
	if err != nil {
		return uuid.Nil
	}
	return claims.UserID
}

// Static is a fixed credential, typically from the environment.
type Static string

func (s Static) Credential(_ context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" || Expired(token, time.Now()) {
		return "", chat_errors.ErrNoCredential
	}
	return token, nil
}

// FileStore keeps the credential in a file, the client-side equivalent of
// browser local storage.
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Credential(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", chat_errors.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" || Expired(token, s.now()) {
		return "", chat_errors.ErrNoCredential
	}
	return token, nil
}

func (s *FileStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat_errors.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	return os.WriteFile(s.path, []byte(token+"\n"), 0o600)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Chain tries each source in order and returns the first credential found.
type Chain []Source

func (c Chain) Credential(ctx context.Context) (string, error) {
	for _, src := range c {
		token, err := src.Credential(ctx)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, chat_errors.ErrNoCredential) {
			return "", err
		}
	}
	return "", chat_errors.ErrNoCredential
}
