// handlers — тонкий HTTP-адаптер над service.Service: разбор JSON,
// вызов операции, ответ JSON или унифицированная ошибка (internal/errors).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/service"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 1 << 20

// Service — операции жизненного цикла, нужные хендлерам.
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
	ValidateAccessToken(ctx context.Context, accessToken string) (*token.Claims, error)
	CurrentUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	VerifyEmail(ctx context.Context, tok string) (*models.User, error)
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	CheckResetToken(ctx context.Context, tok string) error
	ResetPassword(ctx context.Context, tok, newPassword string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next, currentRefresh string) error
}

// Handlers агрегирует зависимости.
type Handlers struct {
	svc Service
}

func New(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
