// Package notify renders and delivers user notifications.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/wneessen/go-mail"

	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	TemplateBudgetAlert   = "budget_alert.html"
	TemplateMonthlyReport = "monthly_report.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is one notification addressed to a single recipient.
type Message struct {
	To       string
	Subject  string
	Template string
	Data     any
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// BudgetAlertData feeds budget_alert.html.
type BudgetAlertData struct {
	UserName      string
	AccountName   string
	PercentUsed   string
	BudgetAmount  string
	TotalExpenses string
}

// MonthlyReportData feeds monthly_report.html.
type MonthlyReportData struct {
	UserName      string
	Month         string
	TotalIncome   string
	TotalExpenses string
	Net           string
	Categories    []CategoryLine
	Insights      []string
}

type CategoryLine struct {
	Category string
	Amount   string
}

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("%w: render %s: %v", core.ErrInvalidInput, name, err)
	}
	return buf.String(), nil
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends messages as HTML email over SMTP.
type Mailer struct {
	client *mail.Client
	from   string
}

func NewMailer(cfg SMTPConfig) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &Mailer{client: client, from: cfg.From}, nil
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}

	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return fmt.Errorf("%w: sender %q: %v", core.ErrInvalidInput, m.from, err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", core.ErrInvalidInput, msg.To, err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, body)

	if err := m.client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("%w: send email: %v", core.ErrExternalService, err)
	}
	return nil
}

// LogNotifier renders messages and logs them instead of sending. It is used
// when no SMTP server is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.For(log.ComponentNotify)}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "Notification not sent, SMTP disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"template", msg.Template,
		"body_bytes", len(body))
	return nil
}
