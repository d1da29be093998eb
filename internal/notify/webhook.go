// Package notify posts sync changes and failures to a chat webhook
// (Discord-compatible payloads).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	appLog "celcal/internal/log"
	"celcal/internal/reconcile"
)

const (
	// errorColor is red in the embed color encoding.
	errorColor = 16711680

	maxContentLen = 2000
	maxContextLen = 1000
)

// DeliveryError reports a failed webhook post. Callers log it; it never
// aborts a cycle.
type DeliveryError struct {
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook delivery: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("webhook delivery: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Webhook sends notifications to a single URL. A Webhook with an empty
// URL is disabled and every call is a no-op.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a URL is configured.
func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

type message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string  `json:"title"`
	Color       int     `json:"color"`
	Description string  `json:"description"`
	Fields      []field `json:"fields,omitempty"`
}

type field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NotifyDiff posts one line per entry, split across several messages when
// the content limit is reached.
func (w *Webhook) NotifyDiff(ctx context.Context, entries []reconcile.DiffEntry) error {
	if !w.Enabled() || len(entries) == 0 {
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, FormatEntry(e))
	}

	appLog.Info("sending notifications to webhook", "count", len(entries), "url", redactURL(w.url))
	for _, chunk := range chunkLines(lines, maxContentLen) {
		if err := w.post(ctx, message{Content: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// NotifyError posts a red embed describing a failed cycle.
func (w *Webhook) NotifyError(ctx context.Context, kind string, cause error) error {
	if !w.Enabled() || cause == nil {
		return nil
	}
	msg := message{Embeds: []embed{{
		Title:       fmt.Sprintf("Error (%s)", kind),
		Color:       errorColor,
		Description: cause.Error(),
		Fields: []field{{
			Name:  "",
			Value: "```\n" + truncate(errorChain(cause), maxContextLen) + "```",
		}},
	}}}
	return w.post(ctx, msg)
}

// FormatEntry renders a diff entry with its verbose label, e.g.
// "+ Added Lecture - CS101 (04/03 08:00 - 10:00)".
func FormatEntry(e reconcile.DiffEntry) string {
	var label string
	switch e.Kind {
	case reconcile.Added:
		label = "Added"
	case reconcile.Removed:
		label = "Removed"
	case reconcile.Modified:
		label = "Modified"
	default:
		label = string(e.Kind)
	}
	return e.Kind.Symbol() + " " + label + " " + reconcile.Display(e.Event)
}

func (w *Webhook) post(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	return nil
}

// errorChain lists every wrapped error, outermost first.
func errorChain(err error) string {
	var b strings.Builder
	for i := 0; err != nil; i++ {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%T: %s", err, err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

// truncate caps s at n bytes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n - 3
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "..."
}

func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var b strings.Builder
	for _, line := range lines {
		line = truncate(line, limit)
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// redactURL hides webhook tokens for logging purposes.
//
//	https://discord.com/api/webhooks/123/secret -> https://discord.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "webhook://...(redacted)"
	}
	i += 3
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
