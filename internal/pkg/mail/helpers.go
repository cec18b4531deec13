package mail

import (
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
)

// BuildConfig maps the application's mail settings onto a mail.Config so
// every caller constructs the sender the same way.
func BuildConfig(cfg *config.AppConfig) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Enable: cfg.Mail.Enable,
		Host:   cfg.Mail.SMTP.Host,
		Port:   cfg.Mail.SMTP.Port,
		Secure: cfg.Mail.SMTP.Secure,
		User:   cfg.Mail.SMTP.User,
		Pass:   cfg.Mail.SMTP.Pass,
		From:   cfg.Mail.From,
	}
}
