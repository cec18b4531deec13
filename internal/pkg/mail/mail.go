package mail

import (
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Config carries SMTP connection settings for outbound mail.
type Config struct {
	Enable bool
	Host   string
	Port   int
	Secure bool
	User   string
	Pass   string
	From   string
}

// Message is a single outbound mail.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages over SMTP.
type Sender struct {
	cfg Config
}

func NewSender(cfg Config) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{cfg: cfg}
}

func (s *Sender) Enabled() bool {
	return s.cfg.Enable && s.cfg.Host != "" && s.cfg.From != ""
}

// Send delivers msg, or returns an error when mail is disabled or the
// message is missing recipients.
func (s *Sender) Send(msg Message) error {
	if !s.Enabled() {
		return fmt.Errorf("mail: sender disabled")
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("mail: no recipients")
	}
	return s.sendSMTP(msg)
}

func (s *Sender) sendSMTP(msg Message) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}

	body := buildMIME(s.cfg.From, msg)

	if s.cfg.Secure {
		return s.sendSMTPS(addr, auth, msg.To, body)
	}
	return smtp.SendMail(addr, auth, s.cfg.From, msg.To, body)
}

// sendSMTPS drives an implicit-TLS session by hand; smtp.SendMail only
// supports STARTTLS upgrades.
func (s *Sender) sendSMTPS(addr string, auth smtp.Auth, to []string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return fmt.Errorf("mail: tls dial: %w", err)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mail: smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail: mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("mail: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mail: data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: close body: %w", err)
	}
	return client.Quit()
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func renderTemplate(tpl string, data interface{}) (string, error) {
	t, err := template.New("mail").Funcs(template.FuncMap{
		"year": func() int { return time.Now().Year() },
	}).Parse(tpl)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := t.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
