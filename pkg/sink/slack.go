package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// slackTextLimit keeps a webhook message under Slack's block limit.
const slackTextLimit = 3000

type slackMessage struct {
	Text string `json:"text"`
}

// SlackWebhook posts outputs to a Slack incoming webhook. A nil client
// uses a client with a 30s timeout.
func SlackWebhook(url string, client *http.Client) Sink {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, out Output) (Reference, error) {
		text := out.Content
		if utf8.RuneCountInString(text) > slackTextLimit {
			text = string([]rune(text)[:slackTextLimit]) + "..."
		}
		if out.Title != "" {
			text = "*" + out.Title + "*\n" + text
		}

		body, err := json.Marshal(slackMessage{Text: text})
		if err != nil {
			return Reference{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Reference{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Reference{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return Reference{}, &fgerrors.StatusError{Service: "slack webhook", Status: resp.StatusCode, Body: string(msg)}
		}

		return Reference{
			Kind:        out.Kind,
			Location:    "slack:" + out.ThreadID,
			DeliveredAt: time.Now().UTC(),
		}, nil
	}
}
