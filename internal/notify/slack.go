// Package notify reports job and request failures to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is one failure report.
type Message struct {
	Title  string
	Text   string
	Fields map[string]string
}

// Notifier delivers messages without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}

// Doer sends HTTP requests. *resilience.Client satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	WebhookURL string
	// Channel overrides the webhook's default channel when set.
	Channel string
	Client  Doer
	Logger     zerolog.Logger

	// Timeout bounds one delivery (default: 10s).
	Timeout time.Duration
}

// Slack posts messages to an incoming webhook.
type Slack struct {
	url     string
	channel string
	client  Doer
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Slack{
		url:     cfg.WebhookURL,
		channel: cfg.Channel,
		client:  cfg.Client,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
	}
}

// New returns a Slack notifier, or Nop when cfg has no webhook URL.
func New(cfg SlackConfig) Notifier {
	if cfg.WebhookURL == "" || cfg.Client == nil {
		return Nop{}
	}
	return NewSlack(cfg)
}

// Notify delivers msg in the background. Cancellation of ctx does not stop
// delivery; values such as trace ids are kept.
func (s *Slack) Notify(ctx context.Context, msg Message) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.send(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("title", msg.Title).Msg("slack notification failed")
		}
	}()
}

// Wait blocks until pending deliveries finish or ctx is done.
func (s *Slack) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func payload(channel string, msg Message) slackPayload {
	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	att := slackAttachment{Color: "danger", Text: msg.Text}
	for _, k := range keys {
		att.Fields = append(att.Fields, slackField{Title: k, Value: msg.Fields[k], Short: true})
	}
	return slackPayload{Channel: channel, Text: msg.Title, Attachments: []slackAttachment{att}}
}

func (s *Slack) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(payload(s.channel, msg))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
