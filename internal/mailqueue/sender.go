package mailqueue

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// SMTPSender отправляет письма через SMTP-сервер.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPSender создаёт отправителя. Пустой user отключает аутентификацию.
func NewSMTPSender(addr, user, password, from string) *SMTPSender {
	var auth smtp.Auth
	if user != "" {
		host, _, _ := net.SplitHostPort(addr)
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPSender{addr: addr, from: from, auth: auth}
}

// Send отправляет письмо. Контекст учитывается только до начала SMTP-сессии.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(s.addr, s.auth, s.from, msg.To, buildMIME(s.from, msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// LogSender пишет письма в лог вместо отправки. Используется, когда SMTP не настроен.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправителя в лог.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send записывает письмо в лог.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("mail delivery skipped, smtp not configured",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
