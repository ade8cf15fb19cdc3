package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/transfer"
	"golang.org/x/time/rate"
)

const maxErrorBody = 1024

// Publisher hands a prepared payload to the publishing endpoint.
type Publisher interface {
	Publish(ctx context.Context, p *transfer.PublishPayload) error
}

// PublishError is returned for a non-2xx answer from the endpoint.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *PublishError) Unwrap() error { return apperr.ErrPublish }

type publishService struct {
	client   *http.Client
	endpoint string
	apiKey   string
	limiter  *rate.Limiter
}

// NewPublishService builds an HTTP publisher. ratePerSec <= 0 disables rate
// limiting. A nil client gets a default one; per call deadlines come from ctx.
func NewPublishService(endpoint, apiKey string, ratePerSec float64, client *http.Client) (Publisher, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid publish endpoint %q", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &publishService{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		limiter:  limiter,
	}, nil
}

func (s *publishService) Publish(ctx context.Context, p *transfer.PublishPayload) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", apperr.ErrPublish, err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return apperr.Validation("encode payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.Validation("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.DispatchID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post to endpoint: %w", apperr.ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &PublishError{StatusCode: resp.StatusCode, Body: string(snippet)}
}
