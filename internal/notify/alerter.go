package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

// AlertTitle is the title of every recall alert.
const AlertTitle = "Yeni Güvenli Olmayan Gıda Bildirimi"

// Alert is a user-visible notification about one record.
type Alert struct {
	ID     string
	Title  string
	Body   string
	Record recall.Record
}

// NewAlert formats the alert for a record.
func NewAlert(r recall.Record) Alert {
	return Alert{
		ID:     "foodAlert-" + r.ID,
		Title:  AlertTitle,
		Body:   fmt.Sprintf("%s bölgesinde %s ürünü güvenli olmayan gıda listesine eklendi.", r.Location.City, r.ProductName),
		Record: r,
	}
}

// Alerter presents alerts to the user.
type Alerter interface {
	Present(ctx context.Context, a Alert) error
	// CancelAll withdraws pending and delivered alerts where the channel
	// supports it.
	CancelAll(ctx context.Context) error
}

// LogAlerter writes alerts as structured log lines.
type LogAlerter struct {
	logger *slog.Logger
}

var _ Alerter = (*LogAlerter)(nil)

// NewLogAlerter creates an alerter that logs at info level.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) Present(_ context.Context, a Alert) error {
	l.logger.Info(a.Title,
		"alert_id", a.ID,
		"body", a.Body,
		"risk", a.Record.Risk.String(),
		"firm", a.Record.FirmName)
	return nil
}

func (l *LogAlerter) CancelAll(context.Context) error { return nil }

// WebhookAlerter posts each alert as a form to a URL, in the manner of chat
// bot APIs.
type WebhookAlerter struct {
	endpoint string
	client   *http.Client
}

var _ Alerter = (*WebhookAlerter)(nil)

// NewWebhookAlerter registers the target URL.
func NewWebhookAlerter(endpoint string) *WebhookAlerter {
	return &WebhookAlerter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Present posts the alert.
func (w *WebhookAlerter) Present(ctx context.Context, a Alert) error {
	if w.endpoint == "" || w.client == nil {
		return fmt.Errorf("webhook alerter misconfigured")
	}

	form := url.Values{}
	form.Set("id", a.ID)
	form.Set("title", a.Title)
	form.Set("text", a.Body)
	form.Set("risk", a.Record.Risk.String())
	form.Set("city", a.Record.Location.City)
	form.Set("product", a.Record.ProductName)
	form.Set("firm", a.Record.FirmName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook error: %s", resp.Status)
	}
	return nil
}

// CancelAll is a no-op: posted messages cannot be withdrawn.
func (w *WebhookAlerter) CancelAll(context.Context) error { return nil }
