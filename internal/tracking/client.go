package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/events"
)

// ErrTransport wraps network-level failures of a delivery attempt
var ErrTransport = errors.New("tracking transport failure")

// maxResponseBody caps how much of a response is kept for diagnostics
const maxResponseBody = 4 << 10

// RemoteRejectedError is returned when the tracking API answers with a non-2xx status
type RemoteRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("tracking API rejected event: status %d, body: %s", e.StatusCode, e.Body)
}

type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new tracking API client
func NewClient(cfg config.TrackingConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Deliver sends one event record. It makes a single attempt; the returned error
// is ErrTransport-wrapped or a *RemoteRejectedError, and is also logged.
func (c *Client) Deliver(ctx context.Context, rec events.Record) error {
	reqBody := TrackRequest{
		Token: c.token,
		Event: rec.Name,
		CustomerProperties: CustomerProperties{
			Email: rec.Email,
		},
		Properties: rec.Properties,
		Time:       rec.Time.Unix(),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		c.logger.Error("Failed to encode tracking event",
			zap.String("event", rec.Name),
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to marshal event %s: %w", rec.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		c.logger.Error("Failed to build tracking request",
			zap.String("event", rec.Name),
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Tracking event delivery error",
			zap.String("event", rec.Name),
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.logger.Warn("Failed to read tracking response", zap.String("event_id", rec.EventID), zap.Error(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Tracking event delivery failed",
			zap.String("event", rec.Name),
			zap.String("event_id", rec.EventID),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &RemoteRejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("Tracking event delivered",
		zap.String("event", rec.Name),
		zap.String("event_id", rec.EventID),
	)
	return nil
}
