// redact маскирует чувствительные значения перед записью в лог.
package redact

import "strings"

// fingerprintLen — сколько символов отпечатка токена попадает в лог.
const fingerprintLen = 8

// Email оставляет первые две руны локальной части и домен.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}

	r := []rune(local)
	if len(r) > 2 {
		return string(r[:2]) + "***@" + domain
	}

	return "***@" + domain
}

// Fingerprint укорачивает отпечаток токена (token.Hash) до префикса,
// достаточного для сопоставления записей лога с таблицей токенов.
func Fingerprint(hash string) string {
	if len(hash) <= fingerprintLen {
		return "***"
	}

	return hash[:fingerprintLen] + "…"
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
