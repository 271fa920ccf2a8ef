package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
)

// Timeout задаёт бюджет сервисного слоя на запрос (timeouts.service).
// Более ранний deadline родителя остаётся в силе, более поздний сокращается до d.
// Если бюджет исчерпан, а клиент ещё ждёт, пишется service_timeout.
// Значение <=0 делает мидлвар no-op.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parent := r.Context()
			ctx, cancel := context.WithTimeout(parent, d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
				logctx.From(ctx).Warn("service_timeout",
					slog.String("path", r.URL.Path),
					slog.Duration("budget", d),
				)
			}
		})
	}
}
