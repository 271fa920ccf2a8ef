package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// opaqueBytes — 256 бит энтропии; в hex это 64 символа.
const opaqueBytes = 32

// Generate возвращает криптографически случайный одноразовый токен
// фиксированной длины в hex. Уникальность дополнительно гарантирует
// ограничение UNIQUE в хранилище.
func Generate() (string, error) {
	const op = "token.Generate"

	b := make([]byte, opaqueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(b), nil
}

// ExpiryFrom возвращает now + seconds в UTC.
func ExpiryFrom(now time.Time, seconds int) time.Time {
	return now.UTC().Add(time.Duration(seconds) * time.Second)
}

// Hash возвращает отпечаток токена для хранения: sha256 → base64url.
// В хранилище попадает только он.
func Hash(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
