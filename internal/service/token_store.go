package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// TokenKind distingue el proposito de un token de un solo uso.
type TokenKind string

const (
	TokenKindRegistration TokenKind = "registration"
	TokenKindLogin        TokenKind = "login"
)

const oneTimeTokenBytes = 32

var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenWrongKind = errors.New("token kind mismatch")
)

// OneTimeTokenStore guarda tokens de un solo uso para los enlaces por correo.
// Consume es exactamente-una-vez: toda consulta destruye la entrada, tambien
// cuando el token esta expirado o es del tipo equivocado.
type OneTimeTokenStore interface {
	Issue(ctx context.Context, email string, kind TokenKind, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string, kind TokenKind) (string, error)
}

// newOpaqueToken genera un token aleatorio sin estructura: no codifica ni el
// correo ni el tipo.
func newOpaqueToken() (string, error) {
	buf := make([]byte, oneTimeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type oneTimeToken struct {
	email   string
	kind    TokenKind
	expires time.Time
}

type memoryOneTimeTokenStore struct {
	mu    sync.Mutex
	items map[string]oneTimeToken
}

// NewMemoryOneTimeTokenStore crea un store en memoria seguro para uso
// concurrente.
func NewMemoryOneTimeTokenStore() OneTimeTokenStore {
	return &memoryOneTimeTokenStore{
		items: make(map[string]oneTimeToken),
	}
}

func (s *memoryOneTimeTokenStore) Issue(_ context.Context, email string, kind TokenKind, ttl time.Duration) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[token] = oneTimeToken{
		email:   email,
		kind:    kind,
		expires: time.Now().UTC().Add(ttl),
	}
	return token, nil
}

func (s *memoryOneTimeTokenStore) Consume(_ context.Context, token string, kind TokenKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[token]
	if !ok {
		return "", ErrTokenNotFound
	}
	// Rama unica de borrado: dos Consume concurrentes sobre el mismo token
	// resuelven en exactamente un exito bajo el mutex.
	delete(s.items, token)
	if time.Now().UTC().After(entry.expires) {
		return "", ErrTokenExpired
	}
	if entry.kind != kind {
		return "", ErrTokenWrongKind
	}
	return entry.email, nil
}
