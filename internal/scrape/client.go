// Package scrape defines the scraping-provider surface the scanner consumes.
//
// The provider is expected to return already-normalized snapshots (see
// AccountSnapshot); provider-specific response shapes are its problem, not
// ours.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "viralscan/pkg/logx"
)

// Client fetches the current snapshot of one account.
type Client interface {
	FetchAccount(ctx context.Context, username string) (AccountSnapshot, error)
}

type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds one fetch. Default 30s.
	Timeout time.Duration
	// RatePerMin caps outgoing fetches. 0 disables pacing.
	RatePerMin int
}

// HTTPClient talks to the scraping provider over its JSON API.
type HTTPClient struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("scraper base_url is required")
	}
	cfg.BaseURL = base
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &HTTPClient{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 1)
	}
	return c, nil
}

func (c *HTTPClient) FetchAccount(ctx context.Context, username string) (AccountSnapshot, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return AccountSnapshot{}, errors.New("username is empty")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return AccountSnapshot{}, err
		}
	}

	u := c.cfg.BaseURL + "/accounts/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return AccountSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("fetch %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Cap error-body reads; provider errors can be arbitrarily large.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return AccountSnapshot{}, fmt.Errorf("fetch %s: status %d: %s",
			username, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var snap AccountSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return AccountSnapshot{}, fmt.Errorf("fetch %s: decode: %w", username, err)
	}
	if snap.Username == "" {
		snap.Username = username
	}
	if snap.FollowerCount < 0 {
		snap.FollowerCount = 0
	}
	return snap, nil
}
