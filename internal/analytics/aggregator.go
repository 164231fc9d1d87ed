// Package analytics summarizes recorded click events into per-link time
// series and dimensional breakdowns. Summaries are computed on demand by
// a full scan of the link's events; volume at this scale does not justify
// a pre-aggregated counter table.
package analytics

import (
	"context"
	"sort"

	"github.com/cliply/cliply/internal/links"
)

// UnknownCountry is the bucket for events recorded without a country.
const UnknownCountry = "Unknown"

// Store is the subset of the link repository the aggregator reads.
type Store interface {
	GetByID(ctx context.Context, id string) (*links.Link, error)
	EventsByLink(ctx context.Context, linkID string) ([]links.ClickEvent, error)
}

type DayCount struct {
	Date   string `json:"date"` // UTC calendar day, YYYY-MM-DD
	Clicks int64  `json:"clicks"`
}

type Summary struct {
	LinkID      string           `json:"id"`
	TotalClicks int64            `json:"total_clicks"`
	Daily       []DayCount       `json:"daily"`
	Countries   map[string]int64 `json:"countries"`
}

type Aggregator struct {
	store Store
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize returns the click summary for a link. Owned links are only
// visible to their owner; stats of anonymous links are public.
func (a *Aggregator) Summarize(ctx context.Context, linkID, requesterID string) (*Summary, error) {
	link, err := a.store.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}

	if link.OwnerID != "" && link.OwnerID != requesterID {
		return nil, links.ErrForbidden
	}

	events, err := a.store.EventsByLink(ctx, linkID)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]int64)
	countries := make(map[string]int64)
	for _, ev := range events {
		byDay[ev.OccurredAt.UTC().Format("2006-01-02")]++

		country := ev.Country
		if country == "" {
			country = UnknownCountry
		}
		countries[country]++
	}

	daily := make([]DayCount, 0, len(byDay))
	for date, clicks := range byDay {
		daily = append(daily, DayCount{Date: date, Clicks: clicks})
	}
	// ISO dates sort chronologically
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	return &Summary{
		LinkID:      linkID,
		TotalClicks: link.ClickCount,
		Daily:       daily,
		Countries:   countries,
	}, nil
}
