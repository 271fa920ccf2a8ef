package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/password"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9]{3,30}$`)

// normalizeEmail обрезает пробелы и приводит адрес к нижнему регистру.
func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validateEmail проверяет базовый формат email и возвращает нормализованный адрес.
func validateEmail(raw string) (string, error) {
	const op = "service.validate.validateEmail"

	email := normalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return email, nil
}

func validateUsername(raw string) (string, error) {
	const op = "service.validate.validateUsername"

	username := strings.TrimSpace(raw)
	if !usernameRe.MatchString(username) {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidUsername)
	}

	return username, nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика: длина >= 8 рун и <= 72 байт (предел bcrypt), хотя бы одна
// строчная, заглавная, цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "service.validate.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len(pw) > password.MaxLen {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	if len([]rune(pw)) < 8 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
