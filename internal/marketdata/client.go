package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/metrics"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	defaultIndex     = "NIFTY"
	maxBodyBytes     = 16 << 20
)

var ErrSymbolRequired = errors.New("symbol is required")

type Options struct {
	CacheTTL  time.Duration
	CookieTTL time.Duration
	Timeout   time.Duration
	Proxy     func(*http.Request) (*url.URL, error)
	Metrics   *metrics.Metrics
}

type cacheEntry struct {
	data json.RawMessage
	at   time.Time
}

// Client proxies the option-chain endpoints of the exchange website and
// keeps each symbol's answer for a short TTL.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options

	mu     sync.Mutex
	index  map[string]cacheEntry
	equity map[string]cacheEntry

	cookieMu sync.Mutex
	cookie   string
	cookieAt time.Time
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:    opts,
		index:   make(map[string]cacheEntry),
		equity:  make(map[string]cacheEntry),
	}
}

func (c *Client) cached(table map[string]cacheEntry, symbol string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := table[symbol]
	if !ok || time.Since(e.at) >= c.opts.CacheTTL {
		return nil, false
	}
	return e.data, true
}

func (c *Client) store(table map[string]cacheEntry, symbol string, data json.RawMessage) {
	c.mu.Lock()
	table[symbol] = cacheEntry{data: data, at: time.Now()}
	c.mu.Unlock()
}

// Index returns the index option chain for symbol, NIFTY when empty.
func (c *Client) Index(ctx context.Context, symbol string) (json.RawMessage, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		symbol = defaultIndex
	}
	if data, ok := c.cached(c.index, symbol); ok {
		c.opts.Metrics.ObserveMarketCache(true)
		return data, nil
	}
	c.opts.Metrics.ObserveMarketCache(false)

	data, _, err := c.get(ctx, "/api/option-chain-indices?symbol="+url.QueryEscape(symbol), c.baseURL+"/option-chain", "")
	if err != nil {
		return nil, err
	}
	c.store(c.index, symbol, data)
	return data, nil
}

// Equity returns the equity option chain for symbol. The upstream only
// answers with the site's session cookies attached.
func (c *Client) Equity(ctx context.Context, symbol string) (json.RawMessage, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	if data, ok := c.cached(c.equity, symbol); ok {
		c.opts.Metrics.ObserveMarketCache(true)
		return data, nil
	}
	c.opts.Metrics.ObserveMarketCache(false)

	cookie, err := c.cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch site cookies: %w", err)
	}

	data, status, err := c.get(ctx, "/api/option-chain-equities?symbol="+url.QueryEscape(symbol), c.baseURL, cookie)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.dropCookies()
	}
	if err != nil {
		return nil, err
	}
	c.store(c.equity, symbol, data)
	return data, nil
}

func (c *Client) get(ctx context.Context, path, referer, cookie string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", referer)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), req.URL.Redacted())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if !json.Valid(body) {
		return nil, resp.StatusCode, errors.New("upstream returned invalid JSON")
	}
	return json.RawMessage(body), resp.StatusCode, nil
}

// cookies returns the site cookie header, refreshing it from the home page
// once it is older than CookieTTL.
func (c *Client) cookies(ctx context.Context) (string, error) {
	c.cookieMu.Lock()
	defer c.cookieMu.Unlock()
	if c.cookie != "" && time.Since(c.cookieAt) < c.opts.CookieTTL {
		return c.cookie, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("home page returned %d", resp.StatusCode)
	}

	var parts []string
	for _, ck := range resp.Cookies() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	c.cookie = strings.Join(parts, "; ")
	c.cookieAt = time.Now()
	log.Debug().Int("cookies", len(parts)).Msg("refreshed market site cookies")
	return c.cookie, nil
}

func (c *Client) dropCookies() {
	c.cookieMu.Lock()
	c.cookie = ""
	c.cookieMu.Unlock()
}
