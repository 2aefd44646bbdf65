// Package mailrelay sends HTML email through an HTTP mail-relay API.
package mailrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// ContentTypeHTML marks the body as HTML rather than plain text.
const ContentTypeHTML = "text/html"

// Message is one outbound email.
type Message struct {
	Subject    string
	HTMLBody   string
	Recipients []string
	// IdempotencyKey lets the relay drop duplicate submissions of the same report.
	IdempotencyKey string
}

type sendRequest struct {
	From        string   `json:"from"`
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
	HTMLBody    string   `json:"htmlBody"`
	ContentType string   `json:"contentType"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client posts messages to the relay.
type Client struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// New creates a relay client.
func New(endpoint, apiKey, from string) *Client {
	return NewWithHTTPClient(endpoint, apiKey, from, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
}

// NewWithHTTPClient creates a relay client with a custom HTTP client (for testing).
func NewWithHTTPClient(endpoint, apiKey, from string, httpClient *http.Client) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, from: from, httpClient: httpClient}
}

// Send submits msg and returns the relay's message ID.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.Recipients) == 0 {
		return "", fmt.Errorf("mailrelay: send: no recipients")
	}
	payload, err := json.Marshal(sendRequest{
		From:        c.from,
		Recipients:  msg.Recipients,
		Subject:     msg.Subject,
		HTMLBody:    msg.HTMLBody,
		ContentType: ContentTypeHTML,
	})
	if err != nil {
		return "", fmt.Errorf("mailrelay: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("mailrelay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mailrelay: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body errorBody
		_ = json.Unmarshal(raw, &body)
		msg := body.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		se := domain.NewSourceError("mailrelay: send", resp.StatusCode, body.Error.Code, errors.New(msg))
		// A relay never reports a dataset as unsupported; any non-retryable
		// status is a delivery rejection.
		if se.Kind == domain.KindSourceRejection {
			se.Kind = domain.KindFatal
		}
		return "", se
	}

	var out sendResponse
	_ = json.Unmarshal(raw, &out)
	return out.MessageID, nil
}
