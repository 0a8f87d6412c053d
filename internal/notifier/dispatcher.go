// Package notifier fans alert firings out to notification channels.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emberhq/emberwatch/internal/metrics"
	"github.com/emberhq/emberwatch/internal/models"
)

// payloadSource identifies this service in generic webhook payloads.
const payloadSource = "emberwatch"

// dispatchTimeout bounds each outbound channel attempt.
const dispatchTimeout = 10 * time.Second

// MailTransport delivers a raw mail message. A nil transport means
// email channels are skipped with a log entry, never an error.
type MailTransport interface {
	// Send delivers msg from the given sender to the recipients.
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// Dispatcher sends firing decisions to Slack, generic webhook and
// email channels. The HTTP client and mail transport are constructed
// once and injected so tests can substitute fakes.
type Dispatcher struct {
	client   *http.Client
	mail     MailTransport
	mailFrom string
	log      *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. mail may be nil when no SMTP
// relay is configured.
func NewDispatcher(mail MailTransport, mailFrom string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: dispatchTimeout,
			// A redirect could retarget the request to an
			// attacker-chosen destination; refuse to follow.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		mail:     mail,
		mailFrom: mailFrom,
		log:      log,
		now:      time.Now,
	}
}

// DispatchToChannels attempts delivery on every channel independently
// and returns once all attempts finished. Failures are logged per
// channel and never surfaced to the caller: a fired alert means
// "attempted", not "delivered". Exactly one attempt per channel, no
// retries.
func (d *Dispatcher) DispatchToChannels(ctx context.Context, ruleName, message string, channels []models.ChannelConfig) {
	var g errgroup.Group
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			switch ch := channel.(type) {
			case models.SlackChannel:
				d.sendSlack(ctx, ch.WebhookURL, ruleName, message)
			case models.WebhookChannel:
				d.sendWebhook(ctx, ch.URL, ruleName, message)
			case models.EmailChannel:
				d.sendEmail(ctx, ch.To, ruleName, message)
			default:
				d.log.Warn("unknown channel type skipped",
					zap.String("rule", ruleName), zap.String("type", string(channel.Type())))
			}
			return nil
		})
	}
	g.Wait()
}

// sendSlack posts the Slack webhook payload.
func (d *Dispatcher) sendSlack(ctx context.Context, url, ruleName, message string) {
	payload := map[string]string{
		"text": fmt.Sprintf("*[alert: %s]*\n%s", ruleName, message),
	}
	if err := d.postJSON(ctx, url, payload); err != nil {
		d.log.Warn("slack alert failed", zap.String("rule", ruleName), zap.Error(err))
		metrics.NotifyFailuresTotal.WithLabelValues("slack").Inc()
		return
	}
	d.log.Info("slack alert sent", zap.String("rule", ruleName))
}

// sendWebhook posts the generic webhook payload.
func (d *Dispatcher) sendWebhook(ctx context.Context, url, ruleName, message string) {
	payload := map[string]any{
		"rule":      ruleName,
		"message":   message,
		"timestamp": d.now().Unix(),
		"source":    payloadSource,
	}
	if err := d.postJSON(ctx, url, payload); err != nil {
		d.log.Warn("webhook alert failed", zap.String("rule", ruleName), zap.Error(err))
		metrics.NotifyFailuresTotal.WithLabelValues("webhook").Inc()
		return
	}
	d.log.Info("webhook alert sent", zap.String("rule", ruleName))
}

// sendEmail delivers a plain-text alert mail. A missing transport or
// an unparsable recipient skips the channel with a log entry.
func (d *Dispatcher) sendEmail(ctx context.Context, to, ruleName, message string) {
	if d.mail == nil {
		d.log.Warn("email alert skipped: no mail transport configured",
			zap.String("rule", ruleName))
		return
	}

	addr, err := mail.ParseAddress(to)
	if err != nil {
		d.log.Warn("email alert skipped: invalid recipient",
			zap.String("rule", ruleName), zap.Error(err))
		return
	}

	msg := buildMessage(d.mailFrom, addr.Address, fmt.Sprintf("[alert] %s", ruleName), message)
	if err := d.mail.Send(ctx, d.mailFrom, []string{addr.Address}, msg); err != nil {
		d.log.Warn("email alert failed",
			zap.String("rule", ruleName), zap.Error(err))
		metrics.NotifyFailuresTotal.WithLabelValues("email").Inc()
		return
	}
	d.log.Info("email alert sent", zap.String("rule", ruleName))
}

// postJSON performs the single delivery attempt for a webhook channel.
func (d *Dispatcher) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// buildMessage assembles a minimal RFC 5322 plain-text message.
func buildMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
