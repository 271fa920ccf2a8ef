// http собирает chi-роутер session-service: мидлвары и маршруты /auth/*.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/http/handlers"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
)

// Service — всё, что нужно роутеру от сервисного слоя.
type Service interface {
	handlers.Service
	middleware.AccessValidator
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics // nil — без метрик
	Timeout  time.Duration
	BasePath string // например, "/api/v1"; если пустой — роуты регистрируются на корне.
	// RequireVerified включает проверку email_verified на маршрутах,
	// требующих подтверждённый адрес (auth.email_verification_enabled).
	RequireVerified bool
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования: id попадает в логгер
		middleware.Logging(opts.Logger, opts.Metrics),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	h := handlers.New(svc)
	auth := middleware.AuthBearer(svc)
	verified := middleware.RequireVerified(opts.RequireVerified)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, auth, verified)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, auth, verified)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, auth, verified middleware.Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/validate", h.Validate)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password/check", h.CheckResetToken)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Get("/me", h.Me)
			r.Post("/logout-all", h.LogoutAll)
			r.Post("/change-password", h.ChangePassword)

			// Список сессий доступен только после подтверждения e-mail.
			r.With(verified).Get("/sessions", h.Sessions)
		})
	})
}
