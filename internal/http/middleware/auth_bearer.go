package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/go-news-aggregator/session-service/internal/errors"
	logctx "github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/service"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// AccessValidator проверяет access-токен (реализуется service.Service).
type AccessValidator interface {
	ValidateAccessToken(ctx context.Context, accessToken string) (*token.Claims, error)
}

// AuthBearer требует заголовок "Authorization: Bearer <access>".
// Проверенные claims кладутся в контекст (ClaimsFrom),
// user_id добавляется в request-scoped логгер. Без токена — 401 unauthenticated,
// с недействительным — 401 token_invalid/token_expired.
func AuthBearer(v AccessValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			claims, err := v.ValidateAccessToken(r.Context(), raw)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxClaims, claims)
			ctx = logctx.With(ctx, slog.String("user_id", claims.UserID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom возвращает claims, положенные AuthBearer.
func ClaimsFrom(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(ctxClaims).(*token.Claims)
	return c, ok && c != nil
}

// RequireVerified пропускает только пользователей с подтверждённым e-mail
// (claim email_verified). Ставится после AuthBearer. При enabled == false
// (auth.email_verification_enabled выключен) ничего не проверяет.
// Без claims — 401 unauthenticated, без подтверждения — 403 email_not_verified.
func RequireVerified(enabled bool) Middleware {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			if !claims.EmailVerified {
				logctx.From(r.Context()).Warn("email_not_verified")
				apierrors.WriteError(w, r, service.ErrEmailNotVerified)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}

	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
