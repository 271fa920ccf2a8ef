package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	httpapi "github.com/pribylovaa/go-news-aggregator/session-service/internal/http"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/notify"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/service"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage/memory"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/storage/postgres"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// store — хранилище с проверкой готовности для /healthz.
type store interface {
	storage.Storage
	Ping(ctx context.Context) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env, "db_driver", cfg.DB.Driver)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	str, err := setupStorage(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer str.Close()

	codec, err := token.New(cfg.Auth)
	if err != nil {
		log.Error("token_codec_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	notifier, err := setupNotifier(cfg)
	if err != nil {
		log.Error("notifier_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	srvc := service.New(str, codec, cfg.Auth,
		service.WithNotifier(notifier),
		service.WithMetrics(m),
	)
	log.Info("service_initialized",
		slog.Bool("email_verification", cfg.Auth.EmailVerificationEnabled),
		slog.Bool("refresh_reuse_detection", cfg.Auth.RefreshReuseDetection),
		slog.Bool("mail_enabled", cfg.Mail.Enabled),
	)

	var ready atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := str.Ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/", httpapi.NewRouter(srvc, httpapi.Options{
		Logger:   log,
		Metrics:  m,
		Timeout:  cfg.Timeouts.Service,
		BasePath: cfg.HTTP.BasePath,

		RequireVerified: cfg.Auth.EmailVerificationEnabled,
	}))

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка просроченных токенов всех видов.
	startJanitor(rootCtx, srvc, log, cfg.Janitor.Period)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	ready.Store(false)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = httpSrv.Close()
	}

	log.Info("service_stopped")
}

// setupStorage выбирает драйвер хранилища; для postgres применяет миграции.
func setupStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (store, error) {
	if cfg.DB.Driver == config.DriverMemory {
		log.Warn("memory_storage_in_use", slog.String("hint", "data is lost on restart"))
		return memory.New(), nil
	}

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dbCancel()

	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("postgres_connected")

	if cfg.DB.Migrate {
		n, err := str.Migrate(dbCtx)
		if err != nil {
			str.Close()
			return nil, err
		}
		log.Info("migrations_applied", slog.Int("count", n))
	}

	return str, nil
}

// setupNotifier — SMTP при mail.enabled, иначе письма только логируются.
func setupNotifier(cfg *config.Config) (service.Notifier, error) {
	if !cfg.Mail.Enabled {
		return notify.LogNotifier{}, nil
	}

	return notify.NewMailer(cfg.Mail, cfg.Auth)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-, verification- и reset-токены.
func startJanitor(ctx context.Context, srvc *service.Service, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := srvc.DeleteExpiredTokens(ctx); err != nil {
					log.Error("janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
