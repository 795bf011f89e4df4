// Package review provides a client for the code-review service that hosts
// patch stacks, review metadata and identity records.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sevigo/stack-warden/internal/core"
)

var (
	// ErrUnsupportedIdentity is returned when an identity reference resolves
	// to a kind the reconciliation cannot attribute commits to.
	ErrUnsupportedIdentity = errors.New("unsupported identity kind")
)

// Client defines the operations the reconciliation needs from the review
// service: fetching a patch stack, batched review metadata, and identity
// resolution.
type Client interface {
	// LoadPatchStack returns the dependency stack for the given diff
	// identifier, ordered bottom (earliest dependency) to top.
	LoadPatchStack(ctx context.Context, stackID string) ([]core.Patch, error)
	// SearchRevisions returns review metadata for the given revision handles,
	// keyed by handle. Handles are deduplicated into a single request.
	SearchRevisions(ctx context.Context, revisionPHIDs []string) (map[string]*core.ReviewMetadata, error)
	// LoadIdentity resolves an opaque identity reference. Results are
	// memoized for the lifetime of the client.
	LoadIdentity(ctx context.Context, ref string) (*core.Identity, error)
}

const (
	maxRetries = 3
	baseDelay  = 500 * time.Millisecond
)

type httpClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu         sync.Mutex
	identities map[string]*core.Identity
}

// NewClient returns a Client talking to the review service at baseURL,
// authenticated with a static API token.
func NewClient(ctx context.Context, baseURL, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &httpClient{
		baseURL:    baseURL,
		client:     oauth2.NewClient(ctx, ts),
		logger:     logger,
		identities: make(map[string]*core.Identity),
	}
}

// patchPayload mirrors the service's wire format for one stack entry.
type patchPayload struct {
	ID           int64  `json:"id"`
	PHID         string `json:"phid"`
	RevisionPHID string `json:"revision_phid"`
	BaseRevision string `json:"base_revision"`
	Diff         string `json:"diff"`
	Commits      []struct {
		Author struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commits"`
}

func (c *httpClient) LoadPatchStack(ctx context.Context, stackID string) ([]core.Patch, error) {
	var payload struct {
		Patches []patchPayload `json:"patches"`
	}
	url := fmt.Sprintf("%s/api/v1/stacks/%s/patches", c.baseURL, stackID)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("load patch stack %s: %w", stackID, err)
	}

	patches := make([]core.Patch, 0, len(payload.Patches))
	for _, p := range payload.Patches {
		patch := core.Patch{
			ID:           p.ID,
			PHID:         p.PHID,
			RevisionPHID: p.RevisionPHID,
			BaseRevision: p.BaseRevision,
			Diff:         p.Diff,
		}
		for _, commit := range p.Commits {
			patch.Commits = append(patch.Commits, core.AuthorCommit{
				Name:  commit.Author.Name,
				Email: commit.Author.Email,
			})
		}
		patches = append(patches, patch)
	}
	return patches, nil
}

func (c *httpClient) SearchRevisions(ctx context.Context, revisionPHIDs []string) (map[string]*core.ReviewMetadata, error) {
	seen := make(map[string]struct{}, len(revisionPHIDs))
	distinct := make([]string, 0, len(revisionPHIDs))
	for _, phid := range revisionPHIDs {
		if _, ok := seen[phid]; ok {
			continue
		}
		seen[phid] = struct{}{}
		distinct = append(distinct, phid)
	}

	body, err := json.Marshal(map[string]any{"phids": distinct})
	if err != nil {
		return nil, fmt.Errorf("encode revision search: %w", err)
	}

	var payload struct {
		Revisions []struct {
			ID            int64    `json:"id"`
			PHID          string   `json:"phid"`
			Title         string   `json:"title"`
			Summary       string   `json:"summary"`
			AuthorPHID    string   `json:"author_phid"`
			ReviewerPHIDs []string `json:"reviewer_phids"`
		} `json:"revisions"`
	}
	url := c.baseURL + "/api/v1/revisions/search"
	if err := c.postJSON(ctx, url, body, &payload); err != nil {
		return nil, fmt.Errorf("search revisions: %w", err)
	}

	metadata := make(map[string]*core.ReviewMetadata, len(payload.Revisions))
	for _, rev := range payload.Revisions {
		metadata[rev.PHID] = &core.ReviewMetadata{
			ReviewID:     rev.ID,
			Title:        rev.Title,
			Summary:      rev.Summary,
			AuthorRef:    rev.AuthorPHID,
			ReviewerRefs: rev.ReviewerPHIDs,
		}
	}
	return metadata, nil
}

func (c *httpClient) LoadIdentity(ctx context.Context, ref string) (*core.Identity, error) {
	c.mu.Lock()
	if identity, ok := c.identities[ref]; ok {
		c.mu.Unlock()
		return identity, nil
	}
	c.mu.Unlock()

	var payload struct {
		DisplayName string `json:"display_name"`
		Handle      string `json:"handle"`
		Kind        string `json:"kind"`
	}
	url := fmt.Sprintf("%s/api/v1/identities/%s", c.baseURL, ref)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("load identity %s: %w", ref, err)
	}

	identity := &core.Identity{
		DisplayName: payload.DisplayName,
		Handle:      payload.Handle,
	}
	switch payload.Kind {
	case "user":
	case "group":
		identity.Group = true
	default:
		return nil, fmt.Errorf("identity %s has kind %q: %w", ref, payload.Kind, ErrUnsupportedIdentity)
	}

	c.mu.Lock()
	c.identities[ref] = identity
	c.mu.Unlock()
	return identity, nil
}

func (c *httpClient) getJSON(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, out)
}

func (c *httpClient) postJSON(ctx context.Context, url string, body []byte, out any) error {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// doWithRetry performs a request with bounded retries and exponential backoff.
// Only transport errors and 5xx responses are retried; 4xx responses are
// returned immediately since repeating them cannot help.
func (c *httpClient) doWithRetry(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<(i-1))
			c.logger.WarnContext(ctx, "review service request failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var req *http.Request
		req, err = newReq()
		if err != nil {
			return err
		}

		err = c.doOnce(req, out)
		if err == nil {
			return nil
		}
		var httpErr *statusError
		if errors.As(err, &httpErr) && !httpErr.retryable() {
			return err
		}
	}
	return err
}

func (c *httpClient) doOnce(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("review service returned %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500
}
