// Package sources pulls news out of the configured origins: message
// channels and HTML sites. Every adapter emits the same uniform raw record
// and leaves cursor persistence to the poller that owns the source.
package sources

import (
	"context"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
)

// maxBackfillDays caps how far back any adapter will fetch history.
const maxBackfillDays = 365

// Adapter is one source family. Implementations are stateless with respect
// to the cursor: the poller passes it in and persists what comes back.
type Adapter interface {
	// Poll returns items newer than cursor in published-at order and the
	// cursor to persist after a successful flush.
	Poll(ctx context.Context, src domain.Source, cursor string) (items []domain.RawNews, newCursor string, err error)

	// Backfill streams historical items back to horizon days, newest first.
	// The channel closes when the horizon is reached or ctx is cancelled.
	Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error)
}

// NewAdapter picks the adapter for a source kind.
func NewAdapter(src domain.Source, channels ChannelClient) (Adapter, error) {
	switch src.Kind {
	case domain.SourceKindMessageChannel:
		if channels == nil {
			return nil, apperr.Newf(apperr.KindConfig, "source %s: no channel client configured", src.Code)
		}
		return newMessageAdapter(channels), nil
	case domain.SourceKindHTML:
		return newHTMLAdapter(src)
	default:
		return nil, apperr.Newf(apperr.KindConfig, "source %s: unknown kind %q", src.Code, src.Kind)
	}
}

func capHorizon(days int) int {
	if days <= 0 || days > maxBackfillDays {
		return maxBackfillDays
	}
	return days
}
