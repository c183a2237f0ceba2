// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying a session token.
const CookieName = "auth_token"

var ErrInvalidToken = errors.New("invalid token")

// Signer issues and verifies EdDSA session tokens whose "sub" is a user id.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey

	// TTL sets the exp claim. Zero issues tokens that never expire.
	TTL time.Duration
	Now func() time.Time
}

// NewSigner generates a fresh ed25519 key pair. Tokens do not survive a restart.
func NewSigner(ttl time.Duration) (*Signer, error) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Signer{private: private, public: public, TTL: ttl, Now: time.Now}, nil
}

// LoadSigner reads a raw ed25519 key pair from disk.
func LoadSigner(privatePath, publicPath string, ttl time.Duration) (*Signer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, errors.New("malformed ed25519 key files")
	}
	return &Signer{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		TTL:     ttl,
		Now:     time.Now,
	}, nil
}

// ParseTTL reads durations like "72h". "", "0" and "never" mean no expiry.
func ParseTTL(s string) (time.Duration, error) {
	switch s {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Issue signs a token for userID.
func (s *Signer) Issue(userID string) (string, error) {
	now := s.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
	}
	if s.TTL > 0 {
		claims["exp"] = now.Add(s.TTL).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.private)
}

// Verify checks the token and returns its subject.
func (s *Signer) Verify(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithTimeFunc(s.Now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return userID, nil
}
