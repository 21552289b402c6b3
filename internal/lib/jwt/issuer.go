package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid - токен истёк, подделан или подписан неизвестным ключом.
var ErrTokenInvalid = errors.New("access token invalid")

// Issuer выпускает и проверяет токены доступа.
type Issuer struct {
	keys *Keyring
	ttl  time.Duration
	now  func() time.Time
}

// Option настраивает Issuer.
type Option func(*Issuer)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer создаёт Issuer с фиксированным временем жизни токена.
func NewIssuer(keys *Keyring, ttl time.Duration, opts ...Option) *Issuer {
	i := &Issuer{keys: keys, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL возвращает время жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint подписывает решение для подписчика текущим ключом.
// Возвращает токен и момент его истечения.
func (i *Issuer) Mint(subscriberID, decision string, seq int64) (string, time.Time, error) {
	const op = "jwt.Mint"
	if subscriberID == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty subscriber id", op)
	}
	if decision != DecisionGranted && decision != DecisionDenied {
		return "", time.Time{}, fmt.Errorf("%s: unknown decision %q", op, decision)
	}

	issuedAt := jwt.NewNumericDate(i.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(i.ttl))
	claims := Claims{
		Decision: decision,
		Sequence: seq,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subscriberID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.keys.current.ID
	signed, err := token.SignedString(i.keys.current.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return signed, expiresAt.Time, nil
}

// Verify проверяет подпись и срок действия токена и возвращает его claims.
// Хранилище не опрашивается: время жизни токена и есть граница устаревания.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	const op = "jwt.Verify"
	now := i.now()
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return i.keys.lookup(kid, now)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	return claims, nil
}
