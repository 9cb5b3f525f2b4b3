// Package notify delivers run notifications. Every send is fire-and-forget:
// failures are logged and never propagate to, or block, the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/eventbus"
)

const maxErrorChars = 200

// SMTPSettings configure the optional email channel.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Notifier posts milestones, failures, and the completion summary to a
// webhook and/or an SMTP recipient.
type Notifier struct {
	webhookURL string
	smtp       SMTPSettings
	client     *http.Client

	// wg lets tests and shutdown wait for in-flight sends.
	wg sync.WaitGroup
}

func New(webhookURL string, smtpSettings SMTPSettings) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		smtp:       smtpSettings,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != "" || (n.smtp.Host != "" && n.smtp.To != "")
}

// Listen consumes bus events until ch closes. Run it on its own goroutine.
func (n *Notifier) Listen(ch <-chan eventbus.Event) {
	for evt := range ch {
		switch evt.Type {
		case eventbus.TypeMilestone:
			n.OnMilestone(evt.Count)
		case eventbus.TypeRowFailed:
			n.OnFailure(evt.Row, evt.Error)
		case eventbus.TypeCompleted:
			n.OnCompletion(evt.Count, evt.Success, evt.Elapsed)
		}
	}
}

// Wait blocks until every in-flight send has finished.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) OnMilestone(count int) {
	n.send(fmt.Sprintf("Milestone: %d ads produced", count), "")
}

func (n *Notifier) OnFailure(idx int, errMsg string) {
	if len(errMsg) > maxErrorChars {
		errMsg = errMsg[:maxErrorChars]
	}
	n.send(fmt.Sprintf("Row %d failed", idx), errMsg)
}

func (n *Notifier) OnCompletion(total, success int, elapsed time.Duration) {
	n.send("Run completed",
		fmt.Sprintf("%d/%d ads produced in %s", success, total, elapsed.Round(time.Second)))
}

// send fans the message out to every configured channel on fresh goroutines.
func (n *Notifier) send(title, detail string) {
	if !n.Enabled() {
		return
	}
	if n.webhookURL != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.postWebhook(title, detail); err != nil {
				log.Warnf("[notify] webhook: %v", err)
			}
		}()
	}
	if n.smtp.Host != "" && n.smtp.To != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.sendEmail(title, detail); err != nil {
				log.Warnf("[notify] email: %v", err)
			}
		}()
	}
}

// postWebhook formats the body for the detected platform and POSTs it.
func (n *Notifier) postWebhook(title, detail string) error {
	text := title
	if detail != "" {
		text = title + "\n" + detail
	}

	var payload map[string]interface{}
	switch {
	case isDiscordWebhook(n.webhookURL):
		payload = map[string]interface{}{"content": text}
	case isSlackWebhook(n.webhookURL):
		payload = map[string]interface{}{"text": text}
	default:
		payload = map[string]interface{}{"title": title, "detail": detail}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", n.webhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s returned %d", n.webhookURL, resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.smtp.Host, n.smtp.Port)
	msg := strings.Join([]string{
		"From: " + n.smtp.From,
		"To: " + n.smtp.To,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if n.smtp.Username != "" {
		auth = smtp.PlainAuth("", n.smtp.Username, n.smtp.Password, n.smtp.Host)
	}
	if err := smtp.SendMail(addr, auth, n.smtp.From, []string{n.smtp.To}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}

func isDiscordWebhook(url string) bool {
	return strings.Contains(url, "discord.com/api/webhooks/") ||
		strings.Contains(url, "discordapp.com/api/webhooks/")
}

func isSlackWebhook(url string) bool {
	return strings.Contains(url, "hooks.slack.com/")
}
