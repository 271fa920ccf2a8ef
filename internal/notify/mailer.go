package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/config"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/pkg/redact"
)

// sender — часть *mail.Client, которую использует Mailer.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer отправляет письма через SMTP.
type Mailer struct {
	client          sender
	from            string
	fromName        string
	frontendURL     string
	verificationTTL time.Duration
	resetTTL        time.Duration
}

// NewMailer создаёт SMTP-клиент go-mail. Соединение открывается на каждую отправку.
func NewMailer(cfg config.MailConfig, auth config.AuthConfig) (*Mailer, error) {
	const op = "notify.NewMailer"

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return newMailer(client, cfg, auth), nil
}

func newMailer(client sender, cfg config.MailConfig, auth config.AuthConfig) *Mailer {
	return &Mailer{
		client:          client,
		from:            cfg.From,
		fromName:        cfg.FromName,
		frontendURL:     cfg.FrontendURL,
		verificationTTL: time.Duration(auth.EmailVerificationExpiry) * time.Second,
		resetTTL:        time.Duration(auth.PasswordResetExpiry) * time.Second,
	}
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, user *models.User, token string) error {
	return m.send(ctx, NoticeVerification, user, data{
		Username:  user.Username,
		Link:      link(m.frontendURL, "/verify-email", token),
		ExpiresIn: humanize(m.verificationTTL),
	})
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, user *models.User, token string) error {
	return m.send(ctx, NoticePasswordReset, user, data{
		Username:  user.Username,
		Link:      link(m.frontendURL, "/reset-password", token),
		ExpiresIn: humanize(m.resetTTL),
	})
}

func (m *Mailer) SendPasswordChangedNotice(ctx context.Context, user *models.User) error {
	return m.send(ctx, NoticePasswordChanged, user, data{Username: user.Username})
}

func (m *Mailer) SendWelcomeNotice(ctx context.Context, user *models.User) error {
	return m.send(ctx, NoticeWelcome, user, data{Username: user.Username})
}

func (m *Mailer) send(ctx context.Context, n Notice, user *models.User, d data) error {
	const op = "notify.Mailer.send"

	msg, err := m.message(n, user.Email, d)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%s: %s: %w", op, n, err)
	}

	log.From(ctx).Debug("notify_sent",
		slog.String("notice", string(n)),
		slog.String("email", redact.Email(user.Email)),
	)

	return nil
}

func (m *Mailer) message(n Notice, to string, d data) (*mail.Msg, error) {
	r, err := render(n, d)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(r.Subject)
	msg.SetBodyString(mail.TypeTextPlain, r.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, r.HTML)

	return msg, nil
}
