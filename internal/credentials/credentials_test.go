package credentials

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	chat_errors "marketplace-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": "buyer@example.edu",
		"name":  "Buyer",
		"exp":   exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestInspect(t *testing.T) {
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, userID.String(), exp)

	claims, err := Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "buyer@example.edu", claims.Email)
	assert.Equal(t, "Buyer", claims.Name)
	assert.True(t, exp.Equal(claims.ExpiresAt))
}

func TestInspect_Invalid(t *testing.T) {
	_, err := Inspect("not-a-jwt")
	assert.ErrorIs(t, err, chat_errors.ErrInvalidInput)

	_, err = Inspect(signToken(t, "not-a-uuid", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, chat_errors.ErrInvalidInput)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Expired(signToken(t, uuid.NewString(), now.Add(time.Minute)), now))
	assert.True(t, Expired(signToken(t, uuid.NewString(), now.Add(-time.Minute)), now))
	assert.False(t, Expired("opaque-token", now), "undecodable tokens are left to the server")
}

func TestStatic(t *testing.T) {
	ctx := context.Background()

	_, err := Static("  ").Credential(ctx)
	assert.ErrorIs(t, err, chat_errors.ErrNoCredential)

	token, err := Static("opaque").Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque", token)
}

func TestFileStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "token"))

	_, err := store.Credential(ctx)
	assert.ErrorIs(t, err, chat_errors.ErrNoCredential)

	token := signToken(t, uuid.NewString(), time.Now().Add(time.Hour))
	require.NoError(t, store.Save(token))

	got, err := store.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, got)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clearing twice is fine")
	_, err = store.Credential(ctx)
	assert.ErrorIs(t, err, chat_errors.ErrNoCredential)
}

func TestFileStore_ExpiredTokenIsAbsent(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save(signToken(t, uuid.NewString(), time.Now().Add(-time.Hour))))

	_, err := store.Credential(context.Background())
	assert.ErrorIs(t, err, chat_errors.ErrNoCredential)
}

func TestFileStore_SaveRejectsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "token"))
	assert.ErrorIs(t, store.Save(" "), chat_errors.ErrInvalidInput)
}

func TestChain_AndSelfID(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	token := signToken(t, userID.String(), time.Now().Add(time.Hour))
	file := NewFileStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, file.Save(token))

	chain := Chain{Static(""), file}
	got, err := chain.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Equal(t, userID, SelfID(ctx, chain))

	_, err = Chain{Static("")}.Credential(ctx)
	assert.ErrorIs(t, err, chat_errors.ErrNoCredential)
	assert.Equal(t, uuid.Nil, SelfID(ctx, Chain{}))
}
