package session

import (
	"context"
	"log"
	"strings"
	"sync"

	"homeboard/internal/auth"
)

// TokenStore persists the bearer credential.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	DeleteToken(ctx context.Context) error
}

// Credential is the single owner of the bearer token. It is opened once
// at startup, survives restarts through its TokenStore, and is cleared on
// logout or when the backend rejects it.
type Credential struct {
	store TokenStore
	mu    sync.RWMutex
	token string
}

// OpenCredential loads any persisted token.
func OpenCredential(ctx context.Context, store TokenStore) (*Credential, error) {
	token, err := store.LoadToken(ctx)
	if err != nil {
		return nil, err
	}
	return &Credential{store: store, token: token}, nil
}

// Token returns the current token, "" when anonymous.
func (c *Credential) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credential) Authenticated() bool {
	return c.Token() != ""
}

// Authenticate persists a new token and makes it current.
func (c *Credential) Authenticate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.ErrMissingToken
	}
	if err := c.store.SaveToken(ctx, token); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	log.Printf("session: credential stored (%s)", auth.Fingerprint(token))
	return nil
}

// Clear forgets the token locally even when the store cannot be reached.
func (c *Credential) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return c.store.DeleteToken(ctx)
}
