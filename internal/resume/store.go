package resume

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers unknown, expired, and tampered tokens.
var ErrInvalidToken = errors.New("resume: invalid or expired token")

// Claims extends jwt.RegisteredClaims with the extracted text length, so
// clients can show it without redeeming the token.
type Claims struct {
	jwt.RegisteredClaims
	Chars int `json:"chars"`
}

type entry struct {
	text    string
	expires time.Time
}

// Store keeps extracted resume text in memory, keyed by signed Ed25519
// tokens. Entries expire after the configured TTL.
type Store struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	texts map[uuid.UUID]entry
}

// NewStore creates a Store from PEM key files. If paths are empty, an
// ephemeral key pair is generated; tokens then die with the process.
func NewStore(privateKeyPath, publicKeyPath string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	s := &Store{
		ttl:    ttl,
		logger: logger,
		texts:  make(map[uuid.UUID]entry),
	}

	if privateKeyPath == "" || publicKeyPath == "" {
		logger.Warn("resume: no token key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("resume: generate key pair: %w", err)
		}
		s.privateKey, s.publicKey = priv, pub
		return s, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("resume: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("resume: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("resume: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("resume: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("resume: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("resume: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("resume: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("resume: public key is not Ed25519")
	}

	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("resume: public key does not match private key")
	}

	s.privateKey, s.publicKey = edPriv, edPub
	return s, nil
}

// Put stores extracted text and returns a signed token for it.
func (s *Store) Put(text string) (string, error) {
	id := uuid.New()
	now := time.Now().UTC()
	exp := now.Add(s.ttl)

	s.mu.Lock()
	s.texts[id] = entry{text: text, expires: exp}
	s.mu.Unlock()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			Issuer:    "tegami",
			Audience:  jwt.ClaimStrings{"tegami"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Chars: len(text),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("resume: sign token: %w", err)
	}

	s.logger.Info("resume: stored text", "chars", len(text), "expires", exp)
	return signed, nil
}

// Get validates a token and returns the stored text.
func (s *Store) Get(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("resume: unexpected signing method: %v", token.Header["alg"])
			}
			return s.publicKey, nil
		},
		jwt.WithAudience("tegami"),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	s.mu.RLock()
	e, found := s.texts[id]
	s.mu.RUnlock()
	if !found || time.Now().After(e.expires) {
		return "", ErrInvalidToken
	}
	return e.text, nil
}

// Count returns how many resumes are currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.texts)
}

// Start runs the expiry sweeper until ctx is done.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.texts {
		if now.After(e.expires) {
			delete(s.texts, id)
			s.logger.Info("resume: expired text evicted", "id", id)
		}
	}
}
