package jwt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Key - ключ подписи. Нулевой ValidUntil означает бессрочный ключ.
type Key struct {
	ID         string
	secret     []byte
	ValidUntil time.Time
}

// Keyring хранит текущий ключ и, на время ротации, предыдущий.
// Подписывает только текущий ключ; предыдущий принимается при проверке
// до своего ValidUntil, чтобы уже выданные токены дожили до конца TTL.
type Keyring struct {
	current  Key
	previous *Key
}

// NewKeyring создаёт связку ключей из секретов конфигурации.
// Пустой previousSecret означает, что ротации нет.
func NewKeyring(currentID, currentSecret, previousID, previousSecret string, previousValidUntil time.Time) (*Keyring, error) {
	const op = "jwt.NewKeyring"
	if currentID == "" || currentSecret == "" {
		return nil, fmt.Errorf("%s: current key id and secret are required", op)
	}
	cur, err := deriveKey(currentID, currentSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	kr := &Keyring{current: Key{ID: currentID, secret: cur}}

	if previousSecret == "" {
		return kr, nil
	}
	if previousID == "" || previousID == currentID {
		return nil, fmt.Errorf("%s: previous key id must be set and differ from current", op)
	}
	if previousValidUntil.IsZero() {
		return nil, fmt.Errorf("%s: previous key needs valid until time", op)
	}
	prev, err := deriveKey(previousID, previousSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	kr.previous = &Key{ID: previousID, secret: prev, ValidUntil: previousValidUntil}
	return kr, nil
}

// CurrentID возвращает ID ключа, которым подписываются новые токены.
func (k *Keyring) CurrentID() string {
	return k.current.ID
}

// lookup возвращает секрет ключа с данным ID, если он ещё принимается на момент now.
func (k *Keyring) lookup(id string, now time.Time) ([]byte, error) {
	if id == k.current.ID {
		return k.current.secret, nil
	}
	if k.previous != nil && id == k.previous.ID {
		if !now.Before(k.previous.ValidUntil) {
			return nil, fmt.Errorf("key %q retired at %s", id, k.previous.ValidUntil.Format(time.RFC3339))
		}
		return k.previous.secret, nil
	}
	return nil, fmt.Errorf("unknown key %q", id)
}

// deriveKey растягивает секрет из конфига до ключа HMAC; ID ключа служит контекстом,
// так что один и тот же секрет под разными ID даёт разные ключи.
func deriveKey(id, secret string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("poc-paywall access token "+id))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.New("derive signing key")
	}
	return key, nil
}
