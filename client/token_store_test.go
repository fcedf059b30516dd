package feast

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestTokenStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	pair := TokenPair{Access: "access-1", Refresh: "refresh-1"}

	store := NewTokenStore(NewFileStorage(dir), logger)
	store.Set(pair)

	reopened := NewTokenStore(NewFileStorage(dir), logger)
	got := reopened.Get()
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)
}

func TestTokenStoreDiscardsMalformedBlob(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Save([]byte("{not json")))

	store := NewTokenStore(storage, zerolog.Nop())
	assert.Nil(t, store.Get())

	// The malformed blob is gone, not just ignored.
	data, err := storage.Load()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestTokenStoreRejectsPartialPair(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage(), zerolog.Nop())
	store.Set(TokenPair{Access: "access-1", Refresh: "refresh-1"})

	store.Set(TokenPair{Access: "access-2"})
	assert.Nil(t, store.Get(), "partial pair should clear the store, not overwrite it")
}

func TestTokenStoreGetReturnsCopy(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage(), zerolog.Nop())
	store.Set(TokenPair{Access: "access-1", Refresh: "refresh-1"})

	got := store.Get()
	got.Access = "mutated"

	assert.Equal(t, "access-1", store.Get().Access)
}

func TestTokenStoreClearIdempotent(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage(), zerolog.Nop())
	store.Set(TokenPair{Access: "access-1", Refresh: "refresh-1"})

	store.Clear()
	store.Clear()
	assert.Nil(t, store.Get())
}

func TestIsExpired(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage(), zerolog.Nop())

	valid := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	expired := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	noExp := signedToken(t, jwt.MapClaims{"user_id": 1})

	tests := []struct {
		name string
		pair *TokenPair
		want bool
	}{
		{"nil pair", nil, true},
		{"empty access", &TokenPair{Refresh: "r"}, true},
		{"not a jwt", &TokenPair{Access: "garbage", Refresh: "r"}, true},
		{"no exp claim", &TokenPair{Access: noExp, Refresh: "r"}, true},
		{"expired", &TokenPair{Access: expired, Refresh: "r"}, true},
		{"valid", &TokenPair{Access: valid, Refresh: "r"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.IsExpired(tt.pair))
		})
	}
}

func TestIsExpiredUsesInjectedClock(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage(), zerolog.Nop())
	token := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	pair := &TokenPair{Access: token, Refresh: "r"}

	orig := timeNow
	defer func() { timeNow = orig }()

	timeNow = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.True(t, store.IsExpired(pair))

	timeNow = func() time.Time { return time.Now() }
	assert.False(t, store.IsExpired(pair))
}
