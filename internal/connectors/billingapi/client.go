// Package billingapi provides an HTTP client for a REST billing/usage API
// that serves the four daily datasets per subscription.
//
//	GET {endpoint}/subscriptions/{id}/{dataset}?from=YYYY-MM-DD&to=YYYY-MM-DD
//
// Responses carry {"records": [...], "nextLink": "..."}; errors carry
// {"error": {"code": "...", "message": "..."}}.
package billingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// maxPages bounds nextLink following so a looping server cannot hang a run.
const maxPages = 100

// Client queries the billing API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a client with the given endpoint URL and API key. Timeouts are
// applied per attempt by the caller's context.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client (for testing).
func NewWithHTTPClient(endpoint, apiKey string, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type page struct {
	Records  []map[string]any `json:"records"`
	NextLink string           `json:"nextLink"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch returns the raw records of ds for one subscription over window.
func (c *Client) Fetch(ctx context.Context, ds domain.Dataset, subscriptionID string, window domain.DateRange) ([]map[string]any, error) {
	op := "billingapi: " + string(ds)

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("billingapi: invalid endpoint: %w", err)
	}
	u = u.JoinPath("subscriptions", subscriptionID, string(ds))
	q := u.Query()
	q.Set("from", window.Start.Format(domain.DateLayout))
	q.Set("to", window.End.Format(domain.DateLayout))
	u.RawQuery = q.Encode()

	var records []map[string]any
	next := u.String()
	for i := 0; next != ""; i++ {
		if i == maxPages {
			return nil, fmt.Errorf("%s: more than %d pages", op, maxPages)
		}
		p, err := c.get(ctx, op, next)
		if err != nil {
			return nil, err
		}
		records = append(records, p.Records...)
		next = p.NextLink
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, op, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &body)
		msg := body.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, domain.NewSourceError(op, resp.StatusCode, body.Error.Code, errors.New(msg))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var p page
	if err := dec.Decode(&p); err != nil {
		// A truncated body is a transport fault, not a malformed dataset.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil, domain.NewSourceError(op, resp.StatusCode, "MalformedResponse", err)
	}
	return &p, nil
}
