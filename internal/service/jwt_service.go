package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session es el par de tokens firmados devuelto tras cualquier autenticacion
// exitosa.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SessionClaims son los claims firmados de acceso y refresh.
type SessionClaims struct {
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Signer firma y verifica claims de sesion. Es reemplazable para permitir
// rotacion de llaves sin tocar el nucleo de autenticacion.
type Signer interface {
	Sign(claims SessionClaims) (string, error)
	Verify(token string) (SessionClaims, error)
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

const purposeRefresh = "refresh"

type hs256Signer struct {
	secret []byte
}

// NewHS256Signer crea el firmador por defecto con secreto compartido.
func NewHS256Signer(secret string) Signer {
	return &hs256Signer{secret: []byte(secret)}
}

func (s *hs256Signer) Sign(claims SessionClaims) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrJWTInvalid
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *hs256Signer) Verify(tokenString string) (SessionClaims, error) {
	if len(s.secret) == 0 {
		return SessionClaims{}, ErrJWTInvalid
	}
	var claims SessionClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrJWTExpired
		}
		return SessionClaims{}, ErrJWTInvalid
	}
	return claims, nil
}

// SessionService emite pares de tokens de sesion con un sujeto y expiracion.
type SessionService struct {
	signer     Signer
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

func NewSessionService(signer Signer, accessTTL, refreshTTL time.Duration) *SessionService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &SessionService{
		signer:     signer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     "auth-core",
	}
}

// IssueSession firma un access token (claim de sujeto) y un refresh token
// (sujeto + proposito refresh), cada uno verificable por separado.
func (s *SessionService) IssueSession(userID string) (Session, error) {
	if s.signer == nil || strings.TrimSpace(userID) == "" {
		return Session{}, ErrJWTInvalid
	}
	now := time.Now().UTC()
	access, err := s.signer.Sign(s.claims(userID, now, s.accessTTL, ""))
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.signer.Sign(s.claims(userID, now, s.refreshTTL, purposeRefresh))
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Refresh intercambia un refresh token valido por un nuevo par de sesion.
func (s *SessionService) Refresh(refreshToken string) (Session, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return Session{}, err
	}
	if claims.Purpose != purposeRefresh {
		return Session{}, ErrJWTInvalid
	}
	return s.IssueSession(claims.Subject)
}

// ParseAccessToken valida un access token y devuelve sus claims.
func (s *SessionService) ParseAccessToken(accessToken string) (SessionClaims, error) {
	claims, err := s.parse(accessToken)
	if err != nil {
		return SessionClaims{}, err
	}
	if claims.Purpose != "" {
		return SessionClaims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *SessionService) parse(tokenString string) (SessionClaims, error) {
	if s.signer == nil || strings.TrimSpace(tokenString) == "" {
		return SessionClaims{}, ErrJWTInvalid
	}
	claims, err := s.signer.Verify(tokenString)
	if err != nil {
		return SessionClaims{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Issuer != s.issuer {
		return SessionClaims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *SessionService) claims(userID string, now time.Time, ttl time.Duration, purpose string) SessionClaims {
	return SessionClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}
