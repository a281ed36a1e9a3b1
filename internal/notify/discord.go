package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trader-agent/internal/httpx"
	"trader-agent/internal/types"
)

// Discord posts run summaries as rich embeds to a webhook.
type Discord struct {
	webhookURL string
	http       *httpx.Client
}

var _ Notifier = (*Discord)(nil)

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		http:       httpx.NewClient(httpx.WithTimeout(10 * time.Second)),
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
}

func (d *Discord) Send(ctx context.Context, s types.NotificationSummary) error {
	var color int
	var marker string
	switch s.Action {
	case types.Buy:
		color, marker = 0x2ECC71, "🟢 BUY"
	case types.Sell:
		color, marker = 0xE74C3C, "🔴 SELL"
	default:
		color, marker = 0xF39C12, "🟡 HOLD"
	}

	budget := fmt.Sprintf("%d / %d", s.ActionsToday, s.MaxActions)
	if s.MaxActions < 0 {
		budget = fmt.Sprintf("%d / unlimited", s.ActionsToday)
	}

	fields := []embedField{
		{Name: "Decision", Value: string(s.Action), Inline: true},
		{Name: "Ticker", Value: s.Symbol, Inline: true},
		{Name: "Actions today", Value: budget, Inline: true},
	}
	if s.Price > 0 {
		fields = append(fields, embedField{Name: "Price", Value: fmt.Sprintf("$%.2f", s.Price), Inline: true})
	}
	if s.Downgraded {
		fields = append(fields, embedField{Name: "Budget", Value: "⚠️ downgraded to HOLD (daily budget exhausted)", Inline: false})
	}
	if len(s.Degraded) > 0 {
		fields = append(fields, embedField{Name: "Degraded analyses", Value: strings.Join(s.Degraded, ", "), Inline: false})
	}
	if s.OrderResult != "" {
		fields = append(fields, embedField{Name: "Order", Value: s.OrderResult, Inline: false})
	}

	payload := map[string]any{
		"embeds": []embed{{
			Title:       fmt.Sprintf("%s  |  %s", marker, s.Symbol),
			Description: s.Reasoning,
			Color:       color,
			Fields:      fields,
		}},
	}

	if _, err := d.http.POST(ctx, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
