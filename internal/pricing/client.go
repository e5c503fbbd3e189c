package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.cardprices.io/v1"
	defaultTimeout = 10 * time.Second

	// requestsPerSecond paces calls under the upstream's burst limits;
	// the daily quota is tracked separately.
	requestsPerSecond = 5
)

// CardOptions tunes a single-card fetch.
type CardOptions struct {
	IncludeEbay bool
}

// RawPricePayload carries raw condition prices. Pointers distinguish "no
// price known" from zero.
type RawPricePayload struct {
	NearMint         *float64 `json:"near_mint"`
	LightlyPlayed    *float64 `json:"lightly_played"`
	ModeratelyPlayed *float64 `json:"moderately_played"`
	HeavilyPlayed    *float64 `json:"heavily_played"`
}

// GradePayload is one graded price distribution as the upstream reports it.
// Grade naming is not normalized here; BuildSnapshot does that.
type GradePayload struct {
	Grade       string   `json:"grade"`
	Company     string   `json:"company"`
	Average     *float64 `json:"average"`
	Median      *float64 `json:"median"`
	Low         *float64 `json:"low"`
	High        *float64 `json:"high"`
	SampleCount int      `json:"sample_count"`
}

// CardPricePayload is the upstream representation of one priced card.
type CardPricePayload struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Number   string          `json:"number"`
	Rarity   string          `json:"rarity"`
	ImageURL string          `json:"image_url"`
	SetID    string          `json:"set_id"`
	Raw      RawPricePayload `json:"raw"`
	Grades   []GradePayload  `json:"grades"`
}

// SetPayload is the upstream representation of a card set.
type SetPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Series     string `json:"series"`
	TotalCards int    `json:"total_cards"`
}

// Source is the upstream pricing API contract the sync engine depends on.
// The concrete Client implements it; tests substitute fakes.
type Source interface {
	GetCard(ctx context.Context, externalID string, opts CardOptions) (*CardPricePayload, error)
	GetCardsBySet(ctx context.Context, externalSetID string) ([]CardPricePayload, error)
	GetSets(ctx context.Context) ([]SetPayload, error)
}

// Client talks to the upstream pricing API with request pacing and a daily
// quota counter.
type Client struct {
	client     *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	dailyLimit int

	mu             sync.Mutex
	requestsToday  int
	lastRequestDay time.Time
}

// NewClient creates an upstream pricing client. dailyLimit <= 0 selects the
// free-tier default of 100 requests per day.
func NewClient(apiKey string, dailyLimit int) *Client {
	if dailyLimit <= 0 {
		dailyLimit = 100
	}
	return &Client{
		client:     &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		dailyLimit: dailyLimit,
	}
}

// Configured reports whether the client has credentials. Batch jobs check
// this up front so a missing key aborts once instead of failing every card.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// checkDailyLimit consumes one request from today's quota, resetting the
// counter when the day rolls over.
func (c *Client) checkDailyLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if c.lastRequestDay.Before(today) {
		c.requestsToday = 0
		c.lastRequestDay = today
	}

	if c.requestsToday >= c.dailyLimit {
		return false
	}
	c.requestsToday++
	return true
}

// RequestsRemaining returns how many requests are left today.
func (c *Client) RequestsRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if c.lastRequestDay.Before(today) {
		return c.dailyLimit
	}
	remaining := c.dailyLimit - c.requestsToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DailyLimit returns the configured daily request quota.
func (c *Client) DailyLimit() int {
	return c.dailyLimit
}

// ResetTime returns the next daily quota reset (midnight local time).
func (c *Client) ResetTime() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}

type cardEnvelope struct {
	Success bool             `json:"success"`
	Data    CardPricePayload `json:"data"`
	Error   string           `json:"error,omitempty"`
}

type cardListEnvelope struct {
	Success    bool               `json:"success"`
	Data       []CardPricePayload `json:"data"`
	Page       int                `json:"page"`
	TotalPages int                `json:"total_pages"`
	Error      string             `json:"error,omitempty"`
}

type setListEnvelope struct {
	Success bool         `json:"success"`
	Data    []SetPayload `json:"data"`
	Error   string       `json:"error,omitempty"`
}

// doGet performs one authenticated, paced GET and decodes into out.
func (c *Client) doGet(ctx context.Context, path string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNoAPIKey
	}
	if !c.checkDailyLimit() {
		return fmt.Errorf("daily quota of %d exhausted: %w", c.dailyLimit, ErrRateLimited)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream API error: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetCard fetches the priced payload for one card by its upstream ID.
func (c *Client) GetCard(ctx context.Context, externalID string, opts CardOptions) (*CardPricePayload, error) {
	params := url.Values{}
	if opts.IncludeEbay {
		params.Set("include_ebay", "true")
	}

	var env cardEnvelope
	if err := c.doGet(ctx, "/cards/"+url.PathEscape(externalID), params, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		if env.Error != "" {
			return nil, fmt.Errorf("upstream API error: %s", env.Error)
		}
		return nil, fmt.Errorf("upstream API returned unsuccessful response")
	}
	return &env.Data, nil
}

// GetCardsBySet fetches every card in a set, following upstream pagination
// until total_pages is exhausted.
func (c *Client) GetCardsBySet(ctx context.Context, externalSetID string) ([]CardPricePayload, error) {
	var all []CardPricePayload
	page := 1
	for {
		params := url.Values{}
		params.Set("set", externalSetID)
		params.Set("page", fmt.Sprintf("%d", page))

		var env cardListEnvelope
		if err := c.doGet(ctx, "/cards", params, &env); err != nil {
			return nil, err
		}
		if !env.Success {
			if env.Error != "" {
				return nil, fmt.Errorf("upstream API error: %s", env.Error)
			}
			return nil, fmt.Errorf("upstream API returned unsuccessful response")
		}

		all = append(all, env.Data...)
		if env.TotalPages == 0 || page >= env.TotalPages {
			return all, nil
		}
		page++
	}
}

// GetSets fetches the upstream set catalog.
func (c *Client) GetSets(ctx context.Context) ([]SetPayload, error) {
	var env setListEnvelope
	if err := c.doGet(ctx, "/sets", nil, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		if env.Error != "" {
			return nil, fmt.Errorf("upstream API error: %s", env.Error)
		}
		return nil, fmt.Errorf("upstream API returned unsuccessful response")
	}
	return env.Data, nil
}
