package feast

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// tokenFilename is the session-scoped blob name, matching the key the web
// client used for its sessionStorage entry.
const tokenFilename = "authTokens.json"

// Storage persists the serialized token pair across restarts. Implementations
// must tolerate concurrent use from the TokenStore only (the store serializes
// access itself).
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Clear() error
}

// FileStorage keeps the blob in a single 0600 file under dir.
type FileStorage struct {
	path string
}

// NewFileStorage creates the directory if needed and returns a file-backed
// storage. Mirrors the data/-directory layout of broker token storage.
func NewFileStorage(dir string) *FileStorage {
	os.MkdirAll(dir, 0700)
	return &FileStorage{path: filepath.Join(dir, tokenFilename)}
}

func (f *FileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (f *FileStorage) Save(data []byte) error {
	return os.WriteFile(f.path, data, 0600)
}

func (f *FileStorage) Clear() error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemoryStorage holds the blob in memory; used for tests and for sessions
// that should not survive a restart.
type MemoryStorage struct {
	data []byte
}

func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

func (m *MemoryStorage) Load() ([]byte, error) { return m.data, nil }

func (m *MemoryStorage) Save(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.data = nil
	return nil
}

// TokenStore owns the token pair for the lifetime of a session. All other
// components get read-only copies via Get; only the session controller and the
// HTTP client's refresh path call Set/Clear.
type TokenStore struct {
	storage Storage
	logger  zerolog.Logger

	mu   sync.RWMutex
	pair *TokenPair
}

// timeNow is injectable for expiry tests.
var timeNow = time.Now

// NewTokenStore loads any persisted pair from storage. A malformed or partial
// persisted value is treated as "no tokens", never an error.
func NewTokenStore(storage Storage, logger zerolog.Logger) *TokenStore {
	s := &TokenStore{
		storage: storage,
		logger:  logger.With().Str("component", "token_store").Logger(),
	}

	data, err := storage.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not read persisted tokens, starting empty")
		return s
	}
	if len(data) == 0 {
		return s
	}

	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil || !pair.complete() {
		s.logger.Warn().Msg("persisted token blob malformed, discarding")
		storage.Clear()
		return s
	}
	s.pair = &pair
	return s
}

// Get returns a copy of the current pair, or nil when absent.
func (s *TokenStore) Get() *TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return nil
	}
	cp := *s.pair
	return &cp
}

// Set replaces the pair wholesale and persists it. An incomplete pair clears
// the store instead: partial credentials are never kept.
func (s *TokenStore) Set(pair TokenPair) {
	if !pair.complete() {
		s.Clear()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := pair
	s.pair = &cp

	data, err := json.Marshal(pair)
	if err == nil {
		err = s.storage.Save(data)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not persist tokens")
	}
}

// Clear drops the pair from memory and storage. Idempotent.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	if err := s.storage.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("could not clear persisted tokens")
	}
}

// IsExpired inspects the access token's exp claim without verifying the
// signature (the client holds no keys; validity is the server's call). Fail
// safe: a nil pair, an undecodable token or a missing claim all count as
// expired.
func (s *TokenStore) IsExpired(pair *TokenPair) bool {
	if pair == nil || pair.Access == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(pair.Access, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Time.Before(timeNow())
}
