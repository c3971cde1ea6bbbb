// Package session holds the explicitly constructed per-run service context:
// base URL, token store, and the shared HTTP client. It replaces ambient
// global auth state with an object that has an init/teardown lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by session operations after Close.
var ErrClosed = errors.New("session closed")

// TokenStore is the opaque credential collaborator. The core never
// inspects tokens; it only forwards them.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Session carries everything the remote clients need for one application
// run.
type Session struct {
	baseURL string
	tokens  TokenStore
	client  *http.Client

	mu     sync.Mutex
	closed bool
}

// New builds a session. timeout applies to the shared HTTP client; the core
// itself imposes no timeouts.
func New(baseURL string, tokens TokenStore, timeout time.Duration) (*Session, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the service base URL without a trailing slash.
func (s *Session) BaseURL() string { return s.baseURL }

// HTTPClient returns the shared HTTP client.
func (s *Session) HTTPClient() *http.Client { return s.client }

// Token implements remote.TokenSource.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.Token(ctx)
}

// Close tears the session down; subsequent token lookups fail and idle
// connections are released.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.client.CloseIdleConnections()
	return nil
}

// FileTokenStore keeps the bearer token in a mode-0600 file.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store backed by the file at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (f *FileTokenStore) Token(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileTokenStore) SetToken(ctx context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

func (f *FileTokenStore) Clear(ctx context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Compile-time check.
var _ TokenStore = (*FileTokenStore)(nil)
