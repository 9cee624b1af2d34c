package rest

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acme/campaign-dialer/internal/config"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// Client talks JSON to the calling backend.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for the configured backend.
func NewClient(cfg config.BackendConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend client: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend client: parse base url: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend client: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("backend client: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: backend %s %s: %v", apperrors.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: backend %s %s: read body: %v", apperrors.ErrUnavailable, method, path, err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, method, path, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend client: decode %s: %w", path, err)
	}
	return nil
}

func statusError(code int, method, path string, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientCredits, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: backend %s %s: %s", apperrors.ErrNotFound, method, path, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: backend %s %s: %s", apperrors.ErrConflict, method, path, msg)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: backend %s %s: %s", apperrors.ErrQuotaExceeded, method, path, msg)
	case code >= 500:
		return fmt.Errorf("%w: backend %s %s: %d %s", apperrors.ErrUnavailable, method, path, code, msg)
	default:
		return fmt.Errorf("%w: backend %s %s: %d %s", apperrors.ErrValidation, method, path, code, msg)
	}
}

func pageValues(runID string, page, limit int) url.Values {
	q := url.Values{}
	if runID != "" {
		q.Set("runId", runID)
	}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return q
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
