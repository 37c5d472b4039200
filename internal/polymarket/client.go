// Package polymarket provides a client for Polymarket's public Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// GammaAPIBase is the public Gamma endpoint.
	GammaAPIBase = "https://gamma-api.polymarket.com"

	// EventsLimit is the largest page the events endpoint serves.
	EventsLimit = 100
)

// Config holds the configuration for the Polymarket client.
type Config struct {
	BaseURL    string
	PageSize   int
	MaxPages   int
	Timeout    time.Duration
	RetryCount int
}

// Client provides access to the Gamma API.
type Client struct {
	gamma    *resty.Client
	pageSize int
	maxPages int
}

// NewClient creates a new Polymarket client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GammaAPIBase
	}
	if cfg.PageSize <= 0 || cfg.PageSize > EventsLimit {
		cfg.PageSize = EventsLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	return &Client{
		gamma: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(1*time.Second).
			SetHeader("Accept", "application/json"),
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
	}
}

// JSONStringArray handles fields that come as JSON-encoded strings.
// Malformed values decode to an empty array instead of failing the payload.
type JSONStringArray []string

func (j *JSONStringArray) UnmarshalJSON(data []byte) error {
	*j = []string{}

	// Try to unmarshal as a regular array first
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*j = arr
		return nil
	}

	// Try to unmarshal as a string containing JSON array
	var str string
	if err := json.Unmarshal(data, &str); err != nil || str == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(str), &arr); err == nil {
		*j = arr
	}
	return nil
}

// FlexFloat accepts a JSON number or a numeric string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexFloat(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			*f = FlexFloat(parsed)
			return nil
		}
	}

	*f = 0
	return nil
}

// Market represents a prediction market inside an event.
type Market struct {
	ID            string          `json:"id"`
	Question      string          `json:"question"`
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	EndDate       string          `json:"endDate"`
	Description   string          `json:"description"`
	Outcomes      JSONStringArray `json:"outcomes"`
	OutcomePrices JSONStringArray `json:"outcomePrices"`
	Volume        FlexFloat       `json:"volume"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
}

// Event represents a group of related markets.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	EndDate     string    `json:"endDate"`
	Image       string    `json:"image"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	Archived    bool      `json:"archived"`
	Volume      FlexFloat `json:"volume"`
	Markets     []Market  `json:"markets"`
}

// EventFilters represents filters for event queries.
type EventFilters struct {
	Active   *bool
	Closed   *bool
	Archived *bool
	Limit    int
	Offset   int
}

// GetEvents retrieves one page of events from the Gamma API.
func (c *Client) GetEvents(ctx context.Context, filters EventFilters) ([]Event, error) {
	params := url.Values{}

	if filters.Limit > 0 {
		params.Set("limit", strconv.Itoa(filters.Limit))
	}
	params.Set("offset", strconv.Itoa(filters.Offset))
	if filters.Active != nil {
		params.Set("active", strconv.FormatBool(*filters.Active))
	}
	if filters.Closed != nil {
		params.Set("closed", strconv.FormatBool(*filters.Closed))
	}
	if filters.Archived != nil {
		params.Set("archived", strconv.FormatBool(*filters.Archived))
	}

	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/events")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("events API returned %d: %s", resp.StatusCode(), resp.String())
	}

	var events []Event
	if err := json.Unmarshal(resp.Body(), &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	log.Debug().
		Int("count", len(events)).
		Int("offset", filters.Offset).
		Msg("Fetched events")

	return events, nil
}
