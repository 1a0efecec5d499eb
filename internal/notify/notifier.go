// Package notify formats sale records and delivers them to a Discord-style
// webhook, and writes the plain-text report file.
package notify

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/salewatch/internal/config"
	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/resilience"
)

// MaxContentRunes is the longest message the webhook accepts.
const MaxContentRunes = 2000

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Notifier posts one message per record to the configured webhook.
type Notifier struct {
	cfg    config.NotifyConfig
	client *resty.Client
	retry  resilience.Policy
}

// New creates a Notifier from cfg.
func New(cfg config.NotifyConfig) *Notifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Notifier{
		cfg: cfg,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		retry: retryPolicy(cfg),
	}
}

// retryPolicy is resilience.DefaultPolicy with the configured attempts and
// backoff applied where set.
func retryPolicy(cfg config.NotifyConfig) resilience.Policy {
	p := resilience.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoffMs > 0 {
		p.Backoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
		p.MaxBackoff = 10 * p.Backoff
	}
	p.OnRetry = resilience.LogRetries("notify", "webhook")
	return p
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.WebhookURL != ""
}

// Deliver sends records in order, pacing consecutive sends by the configured
// delay. A failed record is logged and skipped unless ContinueOnError is off,
// in which case delivery stops there. It returns the number delivered and,
// when any record failed, a *Error.
func (n *Notifier) Deliver(ctx context.Context, records []model.SaleRecord) (int, error) {
	if !n.Enabled() || len(records) == 0 {
		return 0, nil
	}
	log := zap.L().With(zap.String("component", "notify"))

	limiter := rate.NewLimiter(rate.Inf, 1)
	if d := n.cfg.Delay(); d > 0 {
		limiter = rate.NewLimiter(rate.Every(d), 1)
	}

	var (
		delivered int
		failures  []Failure
	)
	for i, r := range records {
		if err := limiter.Wait(ctx); err != nil {
			failures = append(failures, Failure{Index: i, Record: r, Err: eris.Wrap(err, "notify: wait")})
			break
		}

		if err := n.Send(ctx, FormatMessage(r)); err != nil {
			log.Warn("notification failed",
				zap.Int("index", i),
				zap.String("shop", r.Shop),
				zap.String("title", r.Title),
				zap.Error(err),
			)
			failures = append(failures, Failure{Index: i, Record: r, Err: err})
			if !n.cfg.ContinueOnError {
				break
			}
			continue
		}
		delivered++
		log.Info("notification sent", zap.String("shop", r.Shop), zap.String("title", r.Title))
	}

	if len(failures) > 0 {
		return delivered, &Error{Attempted: len(records), Failures: failures}
	}
	return delivered, nil
}

// Send posts a single message, retrying transient failures.
func (n *Notifier) Send(ctx context.Context, content string) error {
	if !n.Enabled() {
		return eris.New("notify: webhook url not configured")
	}
	payload := webhookPayload{Content: truncate(content, MaxContentRunes), Username: n.cfg.Username}
	return resilience.Do(ctx, n.retry, func(ctx context.Context) error {
		return n.post(ctx, payload)
	})
}

func (n *Notifier) post(ctx context.Context, payload webhookPayload) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.cfg.WebhookURL)
	if err != nil {
		wrapped := eris.Wrap(err, "notify: post webhook")
		if resilience.IsTransient(err) {
			return resilience.Transient(wrapped, 0)
		}
		return wrapped
	}

	if !resp.IsSuccess() {
		code := resp.StatusCode()
		err := eris.Errorf("notify: webhook returned status %d", code)
		if resilience.IsTransientHTTPStatus(code) {
			return resilience.Transient(err, code)
		}
		return err
	}
	return nil
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
