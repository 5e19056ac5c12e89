package session

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfInfo = "pitchfork session signing key v1"
)

// Key is a derived HMAC key and its key id.
type Key struct {
	ID     string
	Secret []byte
}

// KeyRing is an ordered set of signing keys, newest first. Only the first
// key signs; every key verifies.
type KeyRing struct {
	keys []Key
}

// NewKeyRing derives one key per configured secret, keeping their order.
func NewKeyRing(secrets ...string) (*KeyRing, error) {
	ring := &KeyRing{}
	seen := make(map[string]struct{}, len(secrets))
	for i, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("session key %d is empty", i)
		}
		k, err := deriveKey(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[k.ID]; dup {
			return nil, fmt.Errorf("session key %d duplicates an earlier key", i)
		}
		seen[k.ID] = struct{}{}
		ring.keys = append(ring.keys, k)
	}
	if len(ring.keys) == 0 {
		return nil, ErrNoKeys
	}
	return ring, nil
}

func deriveKey(secret string) (Key, error) {
	secretKey := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, secretKey); err != nil {
		return Key{}, fmt.Errorf("derive session key: %w", err)
	}
	sum := sha256.Sum256(secretKey)
	return Key{ID: base64.RawURLEncoding.EncodeToString(sum[:8]), Secret: secretKey}, nil
}

// Primary returns the signing key.
func (r *KeyRing) Primary() Key { return r.keys[0] }

// Keys returns the verification keys in ring order.
func (r *KeyRing) Keys() []Key { return r.keys }

func (r *KeyRing) Len() int { return len(r.keys) }
