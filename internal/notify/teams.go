package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
)

// Teams posts an adaptive card with mentions to an incoming webhook.
type Teams struct {
	client   *resty.Client
	webhook  string
	mentions []string
	linkURL  string
}

// NewTeams returns a Teams notifier. mentions are the default recipients.
func NewTeams(webhook string, mentions []string, linkURL string, timeout time.Duration) *Teams {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Teams{client: client, webhook: webhook, mentions: mentions, linkURL: linkURL}
}

func (t *Teams) Name() string { return "teams" }

type textBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Color string `json:"color"`
	Size  string `json:"size"`
	Wrap  bool   `json:"wrap"`
}

type mention struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Mentioned struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"mentioned"`
}

// Card builds the webhook payload.
func (t *Teams) Card(msg Message) map[string]any {
	ids := lo.Uniq(lo.Ternary(len(msg.Recipients) > 0, msg.Recipients, t.mentions))

	entities := lo.Map(ids, func(id string, _ int) mention {
		m := mention{Type: "mention", Text: "<at>" + id + "</at>"}
		m.Mentioned.ID = id
		m.Mentioned.Name = id
		return m
	})
	mentionText := strings.Join(lo.Map(ids, func(id string, _ int) string { return "@<at>" + id + "</at>" }), " ")

	body := []textBlock{}
	if mentionText != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: mentionText, Color: "attention", Size: "large", Wrap: true})
	}
	body = append(body,
		textBlock{Type: "TextBlock", Text: msg.Title, Color: "default", Size: "default", Wrap: true},
		textBlock{Type: "TextBlock", Text: msg.Text, Color: "good", Size: "medium", Wrap: true},
	)
	if t.linkURL != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: fmt.Sprintf("[Dashboard](%s)", t.linkURL), Color: "accent", Size: "medium", Wrap: true})
	}

	content := map[string]any{
		"type":    "AdaptiveCard",
		"body":    body,
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"version": "1.0",
		"msteams": map[string]any{"entities": entities},
	}
	attachment := map[string]any{
		"contentType": "application/vnd.microsoft.card.adaptive",
		"content":     content,
	}
	return map[string]any{
		"type":        "message",
		"attachments": []map[string]any{attachment},
	}
}

func (t *Teams) Notify(ctx context.Context, msg Message) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(t.Card(msg)).
		Post(t.webhook)
	if err != nil {
		return failure(t.Name(), err)
	}
	if resp.IsError() {
		return failure(t.Name(), fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	return nil
}
