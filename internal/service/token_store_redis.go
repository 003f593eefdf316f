package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// GET+DEL en un solo paso para que dos Consume concurrentes nunca lean el
// mismo valor; tokens expirados o del tipo equivocado quedan destruidos igual.
const redisTokenConsumeScript = `
local value = redis.call("GET", KEYS[1])
if value then
  redis.call("DEL", KEYS[1])
end
return value
`

// El TTL fisico lleva un margen sobre el logico para poder responder
// "expirado" en lugar de "no existe" durante la ventana de gracia.
const redisTokenExpiryGrace = time.Hour

type redisOneTimeTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisOneTimeTokenStore crea un store respaldado en redis; devuelve nil si
// no hay cliente.
func NewRedisOneTimeTokenStore(client *redis.Client) OneTimeTokenStore {
	if client == nil {
		return nil
	}
	return &redisOneTimeTokenStore{
		client: client,
		prefix: "auth:ott:",
	}
}

func (s *redisOneTimeTokenStore) Issue(ctx context.Context, email string, kind TokenKind, ttl time.Duration) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	expires := time.Now().UTC().Add(ttl)
	value := string(kind) + "|" + strconv.FormatInt(expires.Unix(), 10) + "|" + email
	if err := s.client.Set(ctx, s.prefix+token, value, ttl+redisTokenExpiryGrace).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *redisOneTimeTokenStore) Consume(ctx context.Context, token string, kind TokenKind) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrTokenNotFound
	}
	value, err := s.client.Eval(ctx, redisTokenConsumeScript, []string{s.prefix + token}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", err
	}

	parts := strings.SplitN(value, "|", 3)
	if len(parts) != 3 {
		return "", ErrTokenNotFound
	}
	expiresUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrTokenNotFound
	}
	if time.Now().UTC().After(time.Unix(expiresUnix, 0)) {
		return "", ErrTokenExpired
	}
	if TokenKind(parts[0]) != kind {
		return "", ErrTokenWrongKind
	}
	return parts[2], nil
}
