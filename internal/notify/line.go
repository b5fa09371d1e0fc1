package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
)

// Line pushes a text message to each user or group id through the messaging API.
type Line struct {
	client *resty.Client
	to     []string
}

// NewLine returns a LINE notifier. to are the default recipient ids.
func NewLine(baseURL, channelToken string, to []string, timeout time.Duration) *Line {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetAuthToken(channelToken).
		SetHeader("Content-Type", "application/json")
	return &Line{client: client, to: to}
}

func (l *Line) Name() string { return "line" }

type linePush struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (l *Line) Notify(ctx context.Context, msg Message) error {
	ids := lo.Uniq(lo.Ternary(len(msg.Recipients) > 0, msg.Recipients, l.to))
	if len(ids) == 0 {
		return failure(l.Name(), errors.New("no recipients"))
	}

	text := msg.Text
	if msg.Title != "" {
		text = msg.Title + "\n" + msg.Text
	}

	var errs []error
	for _, id := range ids {
		resp, err := l.client.R().
			SetContext(ctx).
			SetBody(linePush{To: id, Messages: []lineMessage{{Type: "text", Text: text}}}).
			Post("/v2/bot/message/push")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if resp.IsError() {
			errs = append(errs, fmt.Errorf("%s: status %d: %s", id, resp.StatusCode(), resp.String()))
		}
	}
	if len(errs) > 0 {
		return failure(l.Name(), errors.Join(errs...))
	}
	return nil
}
