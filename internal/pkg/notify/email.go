package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"maxyourpoints/internal/config"
	"maxyourpoints/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg      *config.EmailConfig
	logger   *slog.Logger
	loginURL string
	send     func(*gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。loginURL 会出现在欢迎邮件中。
func NewEmailNotifier(cfg *config.EmailConfig, loginURL string, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:      cfg,
		logger:   logger,
		loginURL: loginURL,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Configured 判断 SMTP 参数是否齐全。
func (n *EmailNotifier) Configured() bool {
	return n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendWelcome 发送账号创建通知。SMTP 未配置时跳过。
func (n *EmailNotifier) SendWelcome(ctx context.Context, toEmail, name string, role model.Role) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip welcome mail")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip welcome mail")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[Max Your Points] Your CMS account is ready")
	m.SetBody("text/html", n.buildWelcomeBody(name, role))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("welcome email sent", slog.String("to", toEmail), slog.String("role", string(role)))
	return nil
}

func (n *EmailNotifier) buildWelcomeBody(name string, role model.Role) string {
	template := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; padding: 20px; border: 1px solid #e5e7eb;">
    <h2>Welcome to Max Your Points, %s</h2>
    <p>An account with the <strong>%s</strong> role has been created for you.</p>
    <p><a href="%s" style="display:inline-block; padding: 12px 20px; background: #0f172a; color: #fff; text-decoration: none; border-radius: 8px;">Sign in</a></p>
    <p style="font-size: 12px; color: #6b7280;">Ask your administrator for the initial password and change it after your first login.</p>
  </div>
</body>
</html>`
	return fmt.Sprintf(template, html.EscapeString(name), role, html.EscapeString(n.loginURL))
}
