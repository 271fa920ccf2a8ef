// errors стандартизирует ответы об ошибках HTTP-слоя session-service.
// На вход он принимает ошибку сервисного слоя (сентинелы internal/service),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - стабильный машиночитаемый код;
//   - краткое безопасное message без утечки деталей.
//
// Источник истинности по набору ошибок: internal/service.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrInvalidArgument — тело запроса не разобрано (битый JSON, лишние поля).
	ErrInvalidArgument = stderrors.New("invalid argument")
	// ErrUnauthenticated — защищённый маршрут вызван без Bearer-токена.
	ErrUnauthenticated = stderrors.New("unauthenticated")
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// mapping — строка таблицы сопоставления. Пустой message означает,
// что наружу отдаётся текст самого сентинела (ошибки валидации).
type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// table просматривается по порядку через errors.Is.
var table = []mapping{
	{ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_argument", ""},
	{service.ErrInvalidUsername, http.StatusBadRequest, "invalid_argument", ""},
	{service.ErrEmptyPassword, http.StatusBadRequest, "invalid_argument", ""},
	{service.ErrWeakPassword, http.StatusBadRequest, "invalid_argument", ""},
	{service.ErrPasswordTooLong, http.StatusBadRequest, "invalid_argument", ""},

	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{service.ErrAccountInactive, http.StatusForbidden, "account_inactive", "account is inactive"},
	{service.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified", "email verification required"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token has expired"},
	{service.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid", "token is invalid"},
	// Обнаруженный повтор снаружи неотличим от недействительного токена.
	{service.ErrRefreshTokenReuse, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token"},
	{service.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token"},
	{service.ErrRefreshTokenExpired, http.StatusUnauthorized, "refresh_token_expired", "refresh token has expired"},

	{service.ErrInvalidVerificationToken, http.StatusBadRequest, "invalid_verification_token", "invalid verification token"},
	{service.ErrVerificationTokenExpired, http.StatusBadRequest, "verification_token_expired", "verification token has expired"},
	{service.ErrInvalidResetToken, http.StatusBadRequest, "invalid_reset_token", "invalid reset token"},
	{service.ErrResetTokenExpired, http.StatusBadRequest, "reset_token_expired", "reset token has expired"},

	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found", "user not found"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken", "email already registered"},
	{service.ErrUsernameTaken, http.StatusConflict, "username_taken", "username already taken"},
	{service.ErrEmailAlreadyVerified, http.StatusConflict, "email_already_verified", "email is already verified"},

	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует ошибку сервисного слоя в HTTP-статус
// и унифицированный ответ для фронта.
//
// Поведение:
//   - err == nil - это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг.
//   - err оборачивает известный сентинел - статус и код из table.
//   - прочее (сбой хранилища и т.п.) - 500/internal без утечки деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	for _, m := range table {
		if !stderrors.Is(err, m.target) {
			continue
		}

		msg := m.message
		if msg == "" {
			msg = m.target.Error()
		}

		return m.status, ErrorResponse{Error: APIError{Code: m.code, Message: msg}}
	}

	return internal()
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func internal() (int, ErrorResponse) {
	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}
