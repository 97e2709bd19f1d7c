// Package gateway wraps the upstream trading API with cache consultation,
// per-feed timeouts and failure normalization. Every outcome is a value;
// nothing network-related escapes this boundary as an error or panic.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portfolio_dashboard/cache"
	"portfolio_dashboard/config"
	"portfolio_dashboard/models"
)

// TokenProvider supplies the bearer token attached to upstream requests.
// Token retrieval itself is outside this package.
type TokenProvider interface {
	Token() (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

// Endpoint describes one upstream feed resource.
type Endpoint struct {
	Feed    models.FeedID
	URL     string
	TTL     time.Duration
	Timeout time.Duration
}

// FetchOptions control a single Fetch call.
type FetchOptions struct {
	// BypassCache forces a network call even when a fresh entry exists.
	BypassCache bool
	// CacheKey overrides the default cache key (feed id). Context-sensitive
	// callers include the context value (e.g. currency) in the key.
	CacheKey string
	// Query is appended to the endpoint URL.
	Query url.Values
}

// FetchResult is the outcome of a Fetch. Exactly one of Value/Failure is
// meaningful: Failure == nil means Value holds the payload.
type FetchResult struct {
	Value     json.RawMessage
	FromCache bool
	Failure   *Failure
}

// Gateway fetches feed payloads from the upstream API through a TTL cache.
type Gateway struct {
	httpClient *http.Client
	endpoints  map[models.FeedID]Endpoint
	cache      *cache.Cache[string, json.RawMessage]
	tokens     TokenProvider
}

// New builds a gateway from the per-feed configuration.
func New(baseURL string, feeds map[models.FeedID]config.FeedConfig, tokens TokenProvider) *Gateway {
	endpoints := make(map[models.FeedID]Endpoint, len(feeds))
	for id, fc := range feeds {
		endpoints[id] = Endpoint{
			Feed:    id,
			URL:     strings.TrimRight(baseURL, "/") + fc.Path,
			TTL:     fc.TTL,
			Timeout: fc.Timeout,
		}
	}
	return &Gateway{
		// No client-level timeout: each request carries its own per-feed
		// deadline so timeout and abort stay distinguishable.
		httpClient: &http.Client{},
		endpoints:  endpoints,
		cache:      cache.New[string, json.RawMessage](),
		tokens:     tokens,
	}
}

// NewWithClient builds a gateway around an explicit http.Client and cache,
// used by tests.
func NewWithClient(client *http.Client, endpoints map[models.FeedID]Endpoint, c *cache.Cache[string, json.RawMessage], tokens TokenProvider) *Gateway {
	return &Gateway{httpClient: client, endpoints: endpoints, cache: c, tokens: tokens}
}

// InvalidateAll drops every cached payload. Called when the request context
// (display currency) changes so no stale cross-context value survives.
func (g *Gateway) InvalidateAll() {
	g.cache.InvalidateAll()
}

// Fetch returns the payload for a feed, from cache when fresh, otherwise from
// the network. ctx carries cancellation from the caller; the per-feed timeout
// is layered on top of it.
func (g *Gateway) Fetch(ctx context.Context, feed models.FeedID, opts FetchOptions) FetchResult {
	ep, ok := g.endpoints[feed]
	if !ok {
		return FetchResult{Failure: &Failure{Kind: FailureNetwork, Feed: string(feed), Err: errors.New("unknown feed")}}
	}

	key := opts.CacheKey
	if key == "" {
		key = string(feed)
	}

	if !opts.BypassCache {
		if v, hit := g.cache.Get(key); hit {
			return FetchResult{Value: v, FromCache: true}
		}
	}

	value, failure := g.fetchNetwork(ctx, ep, opts.Query)
	if failure != nil {
		return FetchResult{Failure: failure}
	}

	// A response that lands after the caller cancelled is a superseded
	// result: it must not touch the cache.
	if ctx.Err() != nil {
		return FetchResult{Failure: &Failure{Kind: FailureAbort, Feed: string(feed), Err: ctx.Err()}}
	}

	g.cache.Put(key, value, ep.TTL)
	return FetchResult{Value: value}
}

// fetchNetwork issues the HTTP call and normalizes every failure mode.
func (g *Gateway) fetchNetwork(ctx context.Context, ep Endpoint, query url.Values) (json.RawMessage, *Failure) {
	reqCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	target := ep.URL
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, "GET", target, nil)
	if err != nil {
		return nil, &Failure{Kind: FailureNetwork, Feed: string(ep.Feed), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if g.tokens != nil {
		token, err := g.tokens.Token()
		if err != nil {
			log.Printf("Warning: token provider failed for %s: %v", ep.Feed, err)
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, g.classifyTransport(ctx, reqCtx, ep, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &Failure{Kind: FailureHTTP, Feed: string(ep.Feed), Status: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return nil, &Failure{Kind: FailureParse, Feed: string(ep.Feed), Err: errors.New("unexpected content type " + ct)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.classifyTransport(ctx, reqCtx, ep, err)
	}
	if !json.Valid(body) {
		return nil, &Failure{Kind: FailureParse, Feed: string(ep.Feed), Err: errors.New("malformed json body")}
	}

	return json.RawMessage(body), nil
}

// classifyTransport distinguishes abort, timeout and plain network failures.
// The caller's context decides abort vs timeout: if the outer ctx was
// cancelled the caller asked for it; if only the request deadline fired the
// feed timed out.
func (g *Gateway) classifyTransport(ctx, reqCtx context.Context, ep Endpoint, err error) *Failure {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return &Failure{Kind: FailureAbort, Feed: string(ep.Feed), Err: err}
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return &Failure{Kind: FailureTimeout, Feed: string(ep.Feed), Err: err}
	default:
		return &Failure{Kind: FailureNetwork, Feed: string(ep.Feed), Err: err}
	}
}
