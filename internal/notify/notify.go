// notify отправляет пользователю письма жизненного цикла учётной записи:
// подтверждение e-mail, сброс пароля, уведомление о смене пароля, приветствие.
//
// Mailer отправляет через SMTP (go-mail), LogNotifier только пишет событие
// в лог (локальный запуск, mail.enabled=false). Ошибки отправки возвращаются
// вызывающему; сервис их логирует и не прерывает операцию.
package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

// Notice — вид письма.
type Notice string

const (
	NoticeVerification    Notice = "verification"
	NoticePasswordReset   Notice = "password_reset"
	NoticePasswordChanged Notice = "password_changed"
	NoticeWelcome         Notice = "welcome"
)

type content struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// data — поля, доступные шаблонам.
type data struct {
	Username  string
	Link      string
	ExpiresIn string
}

var contents = map[Notice]content{
	NoticeVerification: {
		subject: "Verify your email address",
		text: texttemplate.Must(texttemplate.New("verification").Parse(`Welcome, {{.Username}}!

Please verify your email address by visiting:
{{.Link}}

This link will expire in {{.ExpiresIn}}. If you didn't create an account, please ignore this email.
`)),
		html: htmltemplate.Must(htmltemplate.New("verification").Parse(
			`<h2>Welcome, {{.Username}}!</h2>` +
				`<p>Please verify your email address:</p>` +
				`<p><a href="{{.Link}}">Verify email address</a></p>` +
				`<p>This link will expire in {{.ExpiresIn}}. If you didn't create an account, please ignore this email.</p>`)),
	},
	NoticePasswordReset: {
		subject: "Password reset request",
		text: texttemplate.Must(texttemplate.New("password_reset").Parse(`Hi {{.Username}},

We received a request to reset your password. Visit this link to reset it:
{{.Link}}

This link will expire in {{.ExpiresIn}}. If you didn't request a password reset, please ignore this email.
`)),
		html: htmltemplate.Must(htmltemplate.New("password_reset").Parse(
			`<p>Hi {{.Username}},</p>` +
				`<p>We received a request to reset your password.</p>` +
				`<p><a href="{{.Link}}">Reset password</a></p>` +
				`<p>This link will expire in {{.ExpiresIn}}. If you didn't request a password reset, please ignore this email.</p>`)),
	},
	NoticePasswordChanged: {
		subject: "Your password was changed",
		text: texttemplate.Must(texttemplate.New("password_changed").Parse(`Hi {{.Username}},

This is a confirmation that your password was successfully changed.
If you didn't make this change, please contact support immediately.
`)),
		html: htmltemplate.Must(htmltemplate.New("password_changed").Parse(
			`<p>Hi {{.Username}},</p>` +
				`<p>This is a confirmation that your password was successfully changed.</p>` +
				`<p>If you didn't make this change, please contact support immediately.</p>`)),
	},
	NoticeWelcome: {
		subject: "Welcome!",
		text: texttemplate.Must(texttemplate.New("welcome").Parse(`Hi {{.Username}},

Your email address has been verified. You can now use all features of your account.
`)),
		html: htmltemplate.Must(htmltemplate.New("welcome").Parse(
			`<p>Hi {{.Username}},</p>` +
				`<p>Your email address has been verified. You can now use all features of your account.</p>`)),
	},
}

// rendered — готовое к отправке содержимое письма.
type rendered struct {
	Subject string
	Text    string
	HTML    string
}

func render(n Notice, d data) (rendered, error) {
	const op = "notify.render"

	c, ok := contents[n]
	if !ok {
		return rendered{}, fmt.Errorf("%s: unknown notice %q", op, n)
	}

	var text, html bytes.Buffer
	if err := c.text.Execute(&text, d); err != nil {
		return rendered{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.html.Execute(&html, d); err != nil {
		return rendered{}, fmt.Errorf("%s: %w", op, err)
	}

	return rendered{Subject: c.subject, Text: text.String(), HTML: html.String()}, nil
}

// link собирает ссылку фронтенда вида <base>/<path>?token=<token>.
func link(base, path, token string) string {
	return strings.TrimRight(base, "/") + path + "?" + url.Values{"token": {token}}.Encode()
}

// humanize выводит срок в часах или минутах ("24 hours", "1 hour", "30 minutes").
func humanize(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}

	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}

	return fmt.Sprintf("%d minutes", m)
}
