package notify

import (
	"context"
	"log/slog"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// LogNotifier ничего не отправляет, а пишет событие в лог контекста.
// Вместо токена в лог попадает укороченный отпечаток его хэша.
type LogNotifier struct{}

func (LogNotifier) SendVerificationEmail(ctx context.Context, user *models.User, tok string) error {
	logNotice(ctx, NoticeVerification, user, slog.String("token", redact.Fingerprint(token.Hash(tok))))
	return nil
}

func (LogNotifier) SendPasswordResetEmail(ctx context.Context, user *models.User, tok string) error {
	logNotice(ctx, NoticePasswordReset, user, slog.String("token", redact.Fingerprint(token.Hash(tok))))
	return nil
}

func (LogNotifier) SendPasswordChangedNotice(ctx context.Context, user *models.User) error {
	logNotice(ctx, NoticePasswordChanged, user)
	return nil
}

func (LogNotifier) SendWelcomeNotice(ctx context.Context, user *models.User) error {
	logNotice(ctx, NoticeWelcome, user)
	return nil
}

func logNotice(ctx context.Context, n Notice, user *models.User, extra ...any) {
	args := append([]any{
		slog.String("notice", string(n)),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	}, extra...)

	log.From(ctx).Info("notify_logged", args...)
}
