package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/domain"
)

// pollBatchSize bounds one Poll call against the channel API.
const pollBatchSize = 100

// ChannelMessage is one post as the messaging platform client returns it.
type ChannelMessage struct {
	ID            string
	Text          string
	Date          time.Time
	MediaURLs     []string
	ForwardedFrom string
	Views         int
}

// ChannelClient is the opaque messaging-platform client. Messages returns
// posts strictly after afterID, oldest first; History pages backwards from
// before.
type ChannelClient interface {
	Messages(ctx context.Context, channel string, afterID string, limit int) ([]ChannelMessage, error)
	History(ctx context.Context, channel string, before time.Time, limit int) ([]ChannelMessage, error)
}

// messageAdapter reads a message channel through a ChannelClient.
type messageAdapter struct {
	client ChannelClient
}

func newMessageAdapter(client ChannelClient) *messageAdapter {
	return &messageAdapter{client: client}
}

func (a *messageAdapter) Poll(ctx context.Context, src domain.Source, cursor string) ([]domain.RawNews, string, error) {
	msgs, err := a.client.Messages(ctx, src.BaseLocator, cursor, pollBatchSize)
	if err != nil {
		return nil, cursor, fmt.Errorf("channel %s: %w", src.BaseLocator, err)
	}

	items := make([]domain.RawNews, 0, len(msgs))
	newCursor := cursor
	for _, m := range msgs {
		raw, ok := rawFromMessage(src, m)
		if !ok {
			log.Warn().Str("source", src.Code).Str("message_id", m.ID).Msg("skipping malformed channel message")
			continue
		}
		items = append(items, raw)
		newCursor = m.ID
	}
	return items, newCursor, nil
}

func (a *messageAdapter) Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error) {
	horizon := time.Now().AddDate(0, 0, -capHorizon(horizonDays))
	out := make(chan domain.RawNews)

	go func() {
		defer close(out)
		before := time.Now()
		for {
			msgs, err := a.client.History(ctx, src.BaseLocator, before, pollBatchSize)
			if err != nil {
				log.Error().Err(err).Str("source", src.Code).Msg("backfill aborted")
				return
			}
			if len(msgs) == 0 {
				return
			}
			progressed := false
			for _, m := range msgs {
				if m.Date.Before(horizon) {
					return
				}
				raw, ok := rawFromMessage(src, m)
				if !ok {
					continue
				}
				select {
				case out <- raw:
				case <-ctx.Done():
					return
				}
				if m.Date.Before(before) {
					before = m.Date
					progressed = true
				}
			}
			// a page that moved the cursor nowhere would repeat forever
			if !progressed {
				log.Warn().Str("source", src.Code).Time("before", before).Msg("backfill cursor stalled")
				return
			}
		}
	}()
	return out, nil
}

// rawFromMessage maps a channel post onto the uniform record. The first line
// becomes the title.
func rawFromMessage(src domain.Source, m ChannelMessage) (domain.RawNews, bool) {
	text := strings.TrimSpace(m.Text)
	if m.ID == "" || (text == "" && len(m.MediaURLs) == 0) || m.Date.IsZero() {
		return domain.RawNews{}, false
	}

	title := text
	body := text
	if i := strings.IndexByte(text, '\n'); i > 0 {
		title = strings.TrimSpace(text[:i])
		body = strings.TrimSpace(text[i+1:])
	}
	if len([]rune(title)) > 120 {
		title = string([]rune(title)[:120])
	}

	raw := domain.RawNews{
		SourceID:    src.ID,
		ExternalID:  m.ID,
		Title:       title,
		Text:        body,
		PublishedAt: m.Date,
		MediaRefs:   m.MediaURLs,
		RawMeta:     map[string]interface{}{"views": m.Views},
	}
	if m.ForwardedFrom != "" {
		raw.RawMeta["forwarded_from"] = m.ForwardedFrom
	}
	return raw, true
}
