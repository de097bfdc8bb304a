package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://api.mangadex.org"
	DefaultUploadsURL = "https://uploads.mangadex.org"
)

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	UploadsURL string
	UserAgent  string
	Timeout    time.Duration
	// RequestsPerSecond and Burst bound the request rate to the API.
	RequestsPerSecond float64
	Burst             int
	// MaxRetries bounds retries of one call; MaxElapsed bounds their total time.
	MaxRetries uint64
	MaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UploadsURL == "" {
		c.UploadsURL = DefaultUploadsURL
	}
	if c.UserAgent == "" {
		c.UserAgent = "mdarchive"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 2 * time.Minute
	}
	return c
}

// Client talks to the remote document API.
type Client struct {
	cfg     Config
	base    *url.URL
	uploads *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	// newBackOff is replaced in tests to avoid sleeping.
	newBackOff func() backoff.BackOff
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	uploads, err := url.Parse(strings.TrimRight(cfg.UploadsURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse uploads url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		base:    base,
		uploads: uploads,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     log.With("component", "remote"),
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxElapsedTime = cfg.MaxElapsed
		if cfg.MaxRetries > 0 {
			return backoff.WithMaxRetries(b, cfg.MaxRetries)
		}
		return b
	}
	return c, nil
}

// Title fetches a title. includes names related resources to expand, such
// as "cover_art" and "author".
func (c *Client) Title(ctx context.Context, id uuid.UUID, includes ...string) (data.Title, error) {
	q := url.Values{}
	for _, inc := range includes {
		q.Add("includes[]", inc)
	}
	var env envelope
	if err := c.getJSON(ctx, "title", "/manga/"+id.String(), q, &env); err != nil {
		return data.Title{}, err
	}
	return env.Data.title()
}

// Chapter fetches a chapter without its pages.
func (c *Client) Chapter(ctx context.Context, id uuid.UUID) (data.Chapter, error) {
	var env envelope
	if err := c.getJSON(ctx, "chapter", "/chapter/"+id.String(), nil, &env); err != nil {
		return data.Chapter{}, err
	}
	return env.Data.chapter()
}

// Cover fetches the metadata of a cover.
func (c *Client) Cover(ctx context.Context, id uuid.UUID) (data.Cover, error) {
	var env envelope
	if err := c.getJSON(ctx, "cover", "/cover/"+id.String(), nil, &env); err != nil {
		return data.Cover{}, err
	}
	return env.Data.cover()
}

// AtHome resolves the image server holding the pages of a chapter.
func (c *Client) AtHome(ctx context.Context, chapterID uuid.UUID) (AtHome, error) {
	var ah AtHome
	if err := c.getJSON(ctx, "at_home", "/at-home/server/"+chapterID.String(), nil, &ah); err != nil {
		return AtHome{}, err
	}
	if ah.BaseURL == "" || ah.Chapter.Hash == "" {
		return AtHome{}, &RemoteError{Endpoint: "at_home", Status: http.StatusOK, Message: "incomplete at-home response"}
	}
	return ah, nil
}

// CoverURL is where the image of a cover is served.
func (c *Client) CoverURL(cv data.Cover) string {
	return c.uploads.String() + "/covers/" + cv.TitleID.String() + "/" + url.PathEscape(cv.FileName)
}

// Image downloads raw image bytes from an absolute URL.
func (c *Client) Image(ctx context.Context, rawURL string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "image", rawURL, func(body io.Reader) error {
		b, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, v any) error {
	u := *c.base
	u.Path = u.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return c.do(ctx, endpoint, u.String(), func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("%s decode: %w", endpoint, err))
		}
		return nil
	})
}

// do performs a rate limited GET with retries. Client errors other than
// 429 are permanent.
func (c *Client) do(ctx context.Context, endpoint, rawURL string, read func(io.Reader) error) error {
	timer := prometheus.NewTimer(metrics.RemoteLatency.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			rerr := decodeError(endpoint, resp)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(rerr)
			}
			return rerr
		}
		return read(resp.Body)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug("remote call failed, retrying", "endpoint", endpoint, "attempt", attempt, "wait", wait, "err", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		metrics.RemoteErrors.WithLabelValues(endpoint).Inc()
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		return err
	}
	return nil
}
