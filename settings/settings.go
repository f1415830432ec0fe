// Package settings owns the encrypted GitHub credential and the app
// preferences blob, both stored in the settings table.
package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/mrbonezy/canopy/model"
)

const (
	machineIDKey      = "encryption_machine_id"
	tokenKey          = "github_token_encrypted"
	appSettingsKey    = "app_settings"
	keyInfo           = "canopy-token-key"
	tokenFormatPrefix = "v1"
	tokenEnvVar       = "GITHUB_TOKEN"
)

// ErrCorruptedSecret is returned when the stored token cannot be decrypted
// with the current machine key.
var ErrCorruptedSecret = errors.New("stored GitHub token is corrupted; clear it and save a new one")

// Store is the subset of the persistence layer settings need.
type Store interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key string, value string) error
	InsertSettingIfAbsent(ctx context.Context, key string, value string) (string, error)
	DeleteSetting(ctx context.Context, key string) error
	ClearSettings(ctx context.Context) error
}

type Settings struct {
	mu     sync.Mutex
	store  Store
	key    []byte
	getenv func(string) string
	random io.Reader
}

type Option func(*Settings)

// WithEnv replaces os.Getenv for the GITHUB_TOKEN override.
func WithEnv(getenv func(string) string) Option {
	return func(s *Settings) { s.getenv = getenv }
}

// Open bootstraps the machine id and derives the token key. It must run
// before any token read.
func Open(ctx context.Context, store Store, opts ...Option) (*Settings, error) {
	s := &Settings{store: store, getenv: os.Getenv, random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) bootstrap(ctx context.Context) error {
	id, err := s.store.InsertSettingIfAbsent(ctx, machineIDKey, uuid.NewString())
	if err != nil {
		return fmt.Errorf("bootstrap machine id: %w", err)
	}
	key, err := deriveKey(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

func deriveKey(machineID string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(machineID), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return key, nil
}

func (s *Settings) gcm() (cipher.AEAD, error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SaveToken encrypts token and stores it. An empty token clears it.
func (s *Settings) SaveToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.ClearToken(ctx)
	}
	aead, err := s.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(token), nil)
	value := strings.Join([]string{
		tokenFormatPrefix,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(sealed),
	}, ":")
	return s.store.PutSetting(ctx, tokenKey, value)
}

// Token returns the credential to use, preferring GITHUB_TOKEN. An empty
// string with a nil error means no token is configured.
func (s *Settings) Token(ctx context.Context) (string, error) {
	if env := strings.TrimSpace(s.getenv(tokenEnvVar)); env != "" {
		return env, nil
	}
	return s.storedToken(ctx)
}

func (s *Settings) storedToken(ctx context.Context) (string, error) {
	raw, ok, err := s.store.Setting(ctx, tokenKey)
	if err != nil {
		return "", err
	}
	if !ok || raw == "" {
		return "", nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || parts[0] != tokenFormatPrefix {
		return "", ErrCorruptedSecret
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrCorruptedSecret
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrCorruptedSecret
	}
	aead, err := s.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrCorruptedSecret
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCorruptedSecret
	}
	return string(plain), nil
}

// TokenStatus reports the stored credential only; GITHUB_TOKEN counts as
// valid.
func (s *Settings) TokenStatus(ctx context.Context) (model.TokenStatus, error) {
	token, err := s.Token(ctx)
	if errors.Is(err, ErrCorruptedSecret) {
		return model.TokenCorrupted, nil
	}
	if err != nil {
		return "", err
	}
	if token == "" {
		return model.TokenNone, nil
	}
	return model.TokenValid, nil
}

func (s *Settings) ClearToken(ctx context.Context) error {
	return s.store.DeleteSetting(ctx, tokenKey)
}

// ResetData clears every setting, the token included, then bootstraps a
// fresh machine id.
func (s *Settings) ResetData(ctx context.Context) error {
	if err := s.store.ClearSettings(ctx); err != nil {
		return err
	}
	return s.bootstrap(ctx)
}
