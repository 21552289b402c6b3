// Package jwt выпускает и проверяет токены доступа: подписанные HS256
// снимки решения шлюза с коротким временем жизни.
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Решение, зафиксированное в токене.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Claims описывает данные токена доступа. Subject - ID подписчика.
type Claims struct {
	Decision string `json:"decision"`
	// Sequence - последний номер события, по которому принималось решение.
	Sequence int64 `json:"seq"`
	jwt.RegisteredClaims
}

// Granted сообщает, что токен разрешает доступ.
func (c *Claims) Granted() bool {
	return c.Decision == DecisionGranted
}
