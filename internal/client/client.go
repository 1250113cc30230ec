// Package client is a Go consumer of the mail tracking REST API. It validates
// input before sending, accepts every list shape the API family produces and
// never retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client talks to the API on behalf of one session.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

// New builds a Client. BaseURL includes the API prefix, e.g.
// http://localhost:8080/api/v1.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "mailctl"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: ua,
		http:      httpClient,
	}
}

// WithToken returns a copy of the client using token for bearer auth.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *envelopeError         `json:"error"`
	Pagination *Page                  `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Page describes a paginated listing.
type Page struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// call performs one request and decodes the payload into dest. dest may be
// nil for endpoints that answer 204.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, dest interface{}) (*Page, error) {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp.StatusCode, raw)
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return decodePayload(raw, dest)
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{Status: status}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		return apiErr
	}
	var flat struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		for _, msg := range []string{flat.Message, flat.Detail, flat.Error} {
			if msg != "" {
				apiErr.Message = msg
				break
			}
		}
	}
	return apiErr
}

// decodePayload accepts the envelope, a {count, results} page or a bare value.
func decodePayload(raw []byte, dest interface{}) (*Page, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var shape map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &shape); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if data, ok := shape["data"]; ok {
			var env envelope
			if err := json.Unmarshal(trimmed, &env); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			if err := json.Unmarshal(data, dest); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			return env.Pagination, nil
		}
		if results, ok := shape["results"]; ok {
			if err := json.Unmarshal(results, dest); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			page := &Page{}
			if count, ok := shape["count"]; ok {
				_ = json.Unmarshal(count, &page.TotalCount)
			}
			return page, nil
		}
	}
	if err := json.Unmarshal(trimmed, dest); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return nil, nil
}
