// Package vcsmap translates revisions between the primary and secondary
// backends' revision spaces via a mapper service that tracks both histories.
package vcsmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotFound is returned when the mapper has no entry for a revision. The
// mapping is not guaranteed total; callers treat a miss as a signal to
// disable mirroring, not as a hard failure.
var ErrNotFound = errors.New("revision not mapped")

// Mapper translates a primary-backend revision to its secondary-backend
// equivalent.
type Mapper interface {
	Translate(ctx context.Context, primaryRev string) (string, error)
}

const (
	maxRetries = 3
	baseDelay  = 500 * time.Millisecond
)

type httpMapper struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPMapper returns a Mapper backed by the mapper service at baseURL.
func NewHTTPMapper(baseURL string, logger *slog.Logger) Mapper {
	return &httpMapper{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (m *httpMapper) Translate(ctx context.Context, primaryRev string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/map/%s", m.baseURL, primaryRev)

	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<(i-1))
			m.logger.WarnContext(ctx, "revision translation failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		var rev string
		rev, err = m.translateOnce(ctx, url)
		if err == nil {
			return rev, nil
		}
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("translate %s: %w", primaryRev, err)
}

func (m *httpMapper) translateOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("mapper returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Revision string `json:"revision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode mapper response: %w", err)
	}
	if payload.Revision == "" {
		return "", ErrNotFound
	}
	return payload.Revision, nil
}
