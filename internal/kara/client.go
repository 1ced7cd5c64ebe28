// Package kara implements the client for the Kara catalog REST API.
//
// The upstream API is unreliable at scale: it needs small page sizes, long
// timeouts on the product endpoints, and generous pauses between requests.
// The retry policy and the hard page-size cap in this package are defensive
// measures against that, not tunables to optimize away.
package kara

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// maxPageSize is the hard cap on the product listing page size. Larger
	// pages time out on the upstream API.
	maxPageSize = 10

	// detailFetchInterval paces GET /products/{sku} calls so a long product
	// migration does not hammer the API.
	detailFetchInterval = 500 * time.Millisecond

	// directProbeTimeout is the timeout for the permissive fallback probe
	// used when the regular listing reports zero products.
	directProbeTimeout = 120 * time.Second

	// productFields restricts the listing projection to bound response size.
	productFields = "items[id,sku,name,price,status,visibility,type_id,weight,created_at,updated_at," +
		"extension_attributes[category_links,stock_item],custom_attributes,media_gallery_entries]"
)

// Config holds the client configuration.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the Kara REST API with retry, backoff, and re-authentication.
// It is not safe for concurrent use; the migration is strictly sequential.
type Client struct {
	baseURL    string
	username   string
	password   string
	timeout    time.Duration
	maxRetries int

	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(time.Duration)
	log        zerolog.Logger
}

// RetryError is returned when all retry attempts for a request are exhausted.
type RetryError struct {
	Endpoint   string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *RetryError) Error() string {
	msg := "request to " + e.Endpoint + " failed after " + strconv.Itoa(e.Attempts) + " attempts"
	if e.LastStatus != 0 {
		msg += " (HTTP " + strconv.Itoa(e.LastStatus) + ")"
	}
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *RetryError) Unwrap() error { return e.LastErr }

// statusError carries a non-2xx response through the retry loop.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return "HTTP " + strconv.Itoa(e.status) + ": " + e.body
}

// New creates a Kara API client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Every(detailFetchInterval), 1),
		sleep:      time.Sleep,
		log:        log.With().Str("component", "kara-client").Logger(),
	}
}

// Authenticate exchanges the configured credentials for a bearer token and
// stores it for subsequent requests.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/integration/admin/token", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Info().Msg("Authenticating with Kara API")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("Authentication failed")
		return fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Msg("Authentication failed")
		return fmt.Errorf("authenticate: HTTP %d", resp.StatusCode)
	}

	// The token endpoint returns a JSON-encoded string.
	var token string
	if err := json.Unmarshal(body, &token); err != nil {
		token = strings.Trim(strings.TrimSpace(string(body)), `"`)
	}
	c.token = token
	c.log.Info().Msg("Authentication successful")
	return nil
}

// request issues one API call with the full retry policy: lazy authentication,
// a linear-then-capped delay before each retry, an exponential sleep after each
// failed attempt, and re-authentication on 401/403.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, body any) ([]byte, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if c.token == "" {
			if err := c.Authenticate(ctx); err != nil {
				c.log.Warn().Err(err).Msg("Lazy authentication failed")
			}
		}

		if attempt > 0 {
			delay := time.Duration(min(5*attempt, 15)) * time.Second
			c.log.Info().Dur("delay", delay).Int("attempt", attempt+1).Msg("Waiting before retry")
			c.sleep(delay)
		}

		data, status, err := c.doOnce(ctx, method, endpoint, params, body, c.endpointTimeout(endpoint))
		if err == nil {
			return data, nil
		}
		lastErr = err
		lastStatus = status
		c.log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.maxRetries).
			Str("endpoint", endpoint).Msg("Request failed")

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			c.log.Info().Msg("Token may have expired, re-authenticating")
			if authErr := c.Authenticate(ctx); authErr != nil {
				c.log.Warn().Err(authErr).Msg("Re-authentication failed")
			}
		}

		if attempt == c.maxRetries-1 {
			break
		}
		// Exponential backoff on top of the pre-retry delay.
		c.sleep(time.Duration(1<<attempt) * time.Second)
	}

	c.log.Error().Str("endpoint", endpoint).Msg("Maximum retry attempts reached")
	return nil, &RetryError{
		Endpoint:   endpoint,
		Attempts:   c.maxRetries,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

// doOnce performs a single HTTP attempt. It returns the response body on 2xx,
// otherwise the status code and an error. Transport faults never escape as
// panics; everything is converted to an error return.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, params url.Values, body any, timeout time.Duration) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().Str("method", method).Str("url", u).Msg("Making request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, resp.StatusCode, &statusError{status: resp.StatusCode, body: snippet}
	}
	return data, resp.StatusCode, nil
}

// endpointTimeout doubles the configured timeout for the known-slow product
// endpoints.
func (c *Client) endpointTimeout(endpoint string) time.Duration {
	if strings.HasPrefix(endpoint, "products") {
		return c.timeout * 2
	}
	return c.timeout
}

// ListCategories fetches the full category tree in a single call.
func (c *Client) ListCategories(ctx context.Context) (*CategoryNode, error) {
	c.log.Info().Msg("Fetching categories")
	data, err := c.request(ctx, http.MethodGet, "categories", nil, nil)
	if err != nil {
		return nil, err
	}
	var root CategoryNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode category tree: %w", err)
	}
	return &root, nil
}

// ListProducts fetches one page of product summaries. The effective page size
// is capped at 10 regardless of the requested value, and only a restricted
// field projection is requested. Returns (nil, 0, err) on failure.
func (c *Client) ListProducts(ctx context.Context, page, pageSize int, sortField, sortDirection string) ([]ProductSummary, int, error) {
	effective := min(pageSize, maxPageSize)

	params := url.Values{}
	params.Set("searchCriteria[pageSize]", strconv.Itoa(effective))
	params.Set("searchCriteria[currentPage]", strconv.Itoa(page))
	params.Set("searchCriteria[sortOrders][0][field]", sortField)
	params.Set("searchCriteria[sortOrders][0][direction]", sortDirection)
	params.Set("fields", productFields)

	c.log.Info().Int("page", page).Int("page_size", effective).Msg("Fetching products")
	data, err := c.request(ctx, http.MethodGet, "products", params, nil)
	if err != nil {
		c.log.Error().Err(err).Int("page", page).Msg("Failed to fetch products page")
		return nil, 0, err
	}

	var resp productsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode products page: %w", err)
	}
	c.log.Info().Int("count", len(resp.Items)).Int("total", resp.TotalCount).Msg("Fetched products page")
	return resp.Items, resp.TotalCount, nil
}

// FetchProductsDirect is the permissive fallback probe used when the regular
// listing reports zero products: a single attempt with a long timeout and no
// field projection.
func (c *Client) FetchProductsDirect(ctx context.Context) ([]ProductSummary, int, error) {
	params := url.Values{}
	params.Set("searchCriteria[pageSize]", "1")

	data, _, err := c.doOnce(ctx, http.MethodGet, "products", params, nil, directProbeTimeout)
	if err != nil {
		return nil, 0, fmt.Errorf("direct products probe: %w", err)
	}
	var resp productsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode direct products probe: %w", err)
	}
	return resp.Items, resp.TotalCount, nil
}

// GetProductDetail fetches the full detail payload for one SKU. Calls are
// paced by the client's rate limiter as a courtesy to the upstream API.
func (c *Client) GetProductDetail(ctx context.Context, sku string) (*ProductDetail, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.log.Debug().Str("sku", sku).Msg("Fetching product detail")
	data, err := c.request(ctx, http.MethodGet, "products/"+url.PathEscape(sku), nil, nil)
	if err != nil {
		c.log.Error().Err(err).Str("sku", sku).Msg("Failed to fetch product detail")
		return nil, err
	}

	var detail ProductDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("decode product detail %s: %w", sku, err)
	}
	return &detail, nil
}
