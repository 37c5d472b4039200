package polymarket

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/category"
	"github.com/leeaandrob/cloracle/internal/models"
)

// defaultProbability is used when a market carries no usable price.
const defaultProbability = 0.5

// FetchAllEvents pages through active, open events and normalizes them.
//
// It never returns an error: any failed page yields an empty result, which
// callers must read as "nothing fetched" rather than an empty feed.
func (c *Client) FetchAllEvents(ctx context.Context) []models.Event {
	active, closed, archived := true, false, false

	var out []models.Event
	for page := 0; page < c.maxPages; page++ {
		raw, err := c.GetEvents(ctx, EventFilters{
			Active:   &active,
			Closed:   &closed,
			Archived: &archived,
			Limit:    c.pageSize,
			Offset:   page * c.pageSize,
		})
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("Feed fetch failed, discarding partial result")
			return nil
		}

		for i := range raw {
			if ev, ok := Transform(&raw[i]); ok {
				out = append(out, ev)
			}
		}

		if len(raw) < c.pageSize {
			break
		}
	}

	log.Info().Int("count", len(out)).Msg("Feed events normalized")
	return out
}

// Transform converts a raw feed event into an Event. Events without a
// market are skipped.
func Transform(ev *Event) (models.Event, bool) {
	primary := primaryMarket(ev.Markets)
	if primary == nil {
		return models.Event{}, false
	}

	id := primary.ConditionID
	if id == "" {
		id = ev.ID
	}

	slug := ev.Slug
	if slug == "" {
		slug = primary.Slug
	}
	if slug == "" {
		slug = id
	}

	title := ev.Title
	if title == "" {
		title = primary.Question
	}

	description := ev.Description
	if description == "" {
		description = primary.Description
	}

	out := models.Event{
		ID:          id,
		Slug:        slug,
		Title:       title,
		Description: description,
		Category:    category.Normalize(ev.Category, title, description),
		MarketProb:  YesProbability(primary.OutcomePrices),
		IsActive:    true,
	}

	if ev.Image != "" {
		img := ev.Image
		out.ImageURL = &img
	}
	if v := float64(ev.Volume); v > 0 {
		out.Volume = &v
	}
	if primary.EndDate != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, primary.EndDate); err == nil {
				out.EndDate = &t
				break
			}
		}
	}

	return out, true
}

// primaryMarket returns the market with the highest volume. Ties keep the
// earliest market.
func primaryMarket(markets []Market) *Market {
	var best *Market
	for i := range markets {
		if best == nil || markets[i].Volume > best.Volume {
			best = &markets[i]
		}
	}
	return best
}

// YesProbability parses the first outcome price, defaulting to 0.5 and
// clamping into [0,1].
func YesProbability(prices JSONStringArray) float64 {
	if len(prices) == 0 {
		return defaultProbability
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil || math.IsNaN(p) {
		return defaultProbability
	}
	return math.Min(math.Max(p, 0), 1)
}
