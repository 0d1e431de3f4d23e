// Package httpapi implements the ingest boundary against a REST storage service.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Endpoint paths.
const (
	BulkPath   = "/api/v1/messages/bulk"
	SinglePath = "/api/v1/messages/single"
	HealthPath = "/health"
)

// Config controls the REST client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client submits canonical messages over HTTP.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

type bulkRequest struct {
	Messages []ingest.CanonicalMessage `json:"messages"`
}

type bulkResponse struct {
	Results []ingest.ItemResult `json:"results"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (e *errorResponse) reason() string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Detail
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("store.api_base_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{http: client, logger: logger}, nil
}

var _ ingest.Ingestor = (*Client)(nil)

// IngestBulk posts msgs to the bulk endpoint.
func (c *Client) IngestBulk(ctx context.Context, msgs []ingest.CanonicalMessage) ([]ingest.ItemResult, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(bulkRequest{Messages: msgs}).
		SetResult(&bulkResponse{}).
		SetError(&errorResponse{}).
		Post(BulkPath)
	if err != nil {
		return nil, transportError(err)
	}
	if res.IsError() {
		return nil, statusError(res)
	}
	body, ok := res.Result().(*bulkResponse)
	if !ok || body == nil {
		return nil, &ingest.DeliveryError{Class: ingest.DeliveryTerminal, StatusCode: res.StatusCode(), Reason: "unreadable bulk response"}
	}
	c.logger.Debug("bulk ingest",
		zap.Int("messages", len(msgs)),
		zap.Int("results", len(body.Results)),
		zap.Duration("elapsed", res.Time()),
	)
	return body.Results, nil
}

// IngestOne posts msg to the single-item endpoint. A 400 or 422 for the item
// is a rejection rather than a call failure.
func (c *Client) IngestOne(ctx context.Context, msg ingest.CanonicalMessage) (ingest.ItemResult, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&ingest.ItemResult{}).
		SetError(&errorResponse{}).
		Post(SinglePath)
	if err != nil {
		return ingest.ItemResult{}, transportError(err)
	}
	switch code := res.StatusCode(); {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		reason := "rejected"
		if e, ok := res.Error().(*errorResponse); ok && e.reason() != "" {
			reason = e.reason()
		}
		return ingest.ItemResult{Status: ingest.ItemRejected, Reason: reason}, nil
	case res.IsError():
		return ingest.ItemResult{}, statusError(res)
	}
	result, ok := res.Result().(*ingest.ItemResult)
	if !ok || result == nil || result.Status == "" {
		return ingest.ItemResult{}, &ingest.DeliveryError{Class: ingest.DeliveryTerminal, StatusCode: res.StatusCode(), Reason: "unreadable item response"}
	}
	return *result, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get(HealthPath)
	if err != nil {
		return fmt.Errorf("ping storage api: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("ping storage api: status %d", res.StatusCode())
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("storage request: %w", err)
	}
	return &ingest.DeliveryError{Class: ingest.DeliveryRetryable, Reason: "transport", Err: err}
}

func statusError(res *resty.Response) error {
	code := res.StatusCode()
	reason := http.StatusText(code)
	if e, ok := res.Error().(*errorResponse); ok && e.reason() != "" {
		reason = e.reason()
	}
	deliveryErr := &ingest.DeliveryError{StatusCode: code, Reason: reason}
	switch {
	case code == http.StatusTooManyRequests:
		deliveryErr.Class = ingest.DeliveryRateLimited
		deliveryErr.RetryAfter = parseRetryAfter(res.Header().Get("Retry-After"), time.Now())
	case code >= 500 || code == http.StatusRequestTimeout:
		deliveryErr.Class = ingest.DeliveryRetryable
	default:
		deliveryErr.Class = ingest.DeliveryTerminal
	}
	return deliveryErr
}

// parseRetryAfter reads delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
