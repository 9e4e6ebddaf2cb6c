package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled     = errors.New("authentication disabled")
	ErrMissingKey   = errors.New("missing api key")
	ErrInvalidKey   = errors.New("invalid api key")
	ErrKeyRevoked   = errors.New("api key is disabled")
	ErrKeyNotFound  = errors.New("api key not found")
	ErrEmptySeedKey = errors.New("seed key hash cannot be empty")
)

// Store abstracts the API-key catalogue used by the authentication service.
// Implementations must be safe for concurrent use.
type Store interface {
	LookupKey(ctx context.Context, hash string) (*Key, error)
}

// Key represents a provisioned API key. Only the SHA-256 digest of the raw
// key material is ever stored.
type Key struct {
	Name     string
	Hash     string
	Disabled bool
}

// Clone creates a copy safe to hand to request handlers.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	clone := *k
	return &clone
}

// Seed defines a key to provision at startup. Hash is the hex-encoded
// SHA-256 digest of the raw key.
type Seed struct {
	Name     string
	Hash     string
	Disabled bool
}

// Config configures the authentication service.
type Config struct {
	Enabled bool
	Seeds   []Seed
}

// HashKey returns the hex-encoded SHA-256 digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
