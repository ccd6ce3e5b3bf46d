package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultStateTTL bounds how long the sign-in UI may stay open.
const DefaultStateTTL = 10 * time.Minute

// StateCodec encodes the per-attempt sign-in state into the opaque value
// handed to the provider and back.
type StateCodec interface {
	Encode(state *SignInState) (string, error)
	Decode(token string) (*SignInState, error)
}

// SignInState is carried through the provider round trip.
type SignInState struct {
	Nonce        string `json:"n"`
	Provider     string `json:"p"`
	CodeVerifier string `json:"cv,omitempty"`
	AttemptID    string `json:"aid,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// EncryptedStateCodec uses AES-GCM encryption and HMAC signing.
type EncryptedStateCodec struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewEncryptedStateCodec creates a codec. The encryption key must be 16, 24
// or 32 bytes long.
func NewEncryptedStateCodec(encryptionKey, hmacKey []byte, ttl time.Duration) (*EncryptedStateCodec, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("state encryption key must be 16, 24 or 32 bytes, got %d", len(encryptionKey))
	}
	if len(hmacKey) < 16 {
		return nil, fmt.Errorf("state hmac key must be at least 16 bytes, got %d", len(hmacKey))
	}
	if ttl == 0 {
		ttl = DefaultStateTTL
	}
	return &EncryptedStateCodec{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

// NewEphemeralStateCodec generates random keys that live as long as the
// process. States issued before a restart can no longer be decoded.
func NewEphemeralStateCodec(ttl time.Duration) (*EncryptedStateCodec, error) {
	encKey := make([]byte, 32)
	macKey := make([]byte, 32)
	if _, err := rand.Read(encKey); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	if _, err := rand.Read(macKey); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	return NewEncryptedStateCodec(encKey, macKey, ttl)
}

// WithClock overrides the time source, mostly for tests.
func (sc *EncryptedStateCodec) WithClock(now func() time.Time) *EncryptedStateCodec {
	if now != nil {
		sc.now = now
	}
	return sc
}

// Encode encrypts and signs the state.
func (sc *EncryptedStateCodec) Encode(state *SignInState) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}

	now := sc.now()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(sc.ttl).Unix()
	}
	if state.Nonce == "" {
		state.Nonce = generateNonce()
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	gcm, err := sc.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	mac := hmac.New(sha256.New, sc.hmacKey)
	mac.Write(ciphertext)
	signature := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(append(signature, ciphertext...)), nil
}

// Decode verifies and decrypts the state.
func (sc *EncryptedStateCodec) Decode(token string) (*SignInState, error) {
	if token == "" {
		return nil, ErrInvalidState
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidState
	}

	if len(data) < sha256.Size {
		return nil, ErrInvalidState
	}

	signature := data[:sha256.Size]
	ciphertext := data[sha256.Size:]

	mac := hmac.New(sha256.New, sc.hmacKey)
	mac.Write(ciphertext)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, ErrInvalidState
	}

	gcm, err := sc.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidState
	}

	nonce, encrypted := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state SignInState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if sc.now().Unix() > state.ExpiresAt {
		return nil, ErrStateExpired
	}

	return &state, nil
}

func (sc *EncryptedStateCodec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sc.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateCodeVerifier returns a PKCE code verifier.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CodeChallengeS256 derives the S256 PKCE challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
