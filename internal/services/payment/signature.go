package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Sign возвращает подпись тела уведомления: base64(HMAC-SHA256(secret, body)).
// Так подписывает провайдер, значение приходит в заголовке X-Api-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature сравнивает подпись с каждым из секретов за постоянное время.
func verifySignature(secrets []string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	ok := false
	for _, secret := range secrets {
		expected := Sign(secret, body)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			ok = true
		}
	}
	return ok
}
