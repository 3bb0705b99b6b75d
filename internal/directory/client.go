// Package directory is the client for the upstream user-directory API.
//
// The upstream owns the canonical user data (we call it a Profile). This
// package only knows how to fetch it over HTTP and translate upstream
// failures into our error taxonomy — no business logic lives here.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/user-directory/internal/apperror"
	"github.com/sakif/user-directory/internal/model"
)

// DefaultTimeout bounds every upstream call. The request path has no retry
// logic, so a hung upstream connection would otherwise hold the client
// request open indefinitely.
const DefaultTimeout = 10 * time.Second

// ProfileFetcher is the capability the service layer depends on.
// The concrete Client implements it; tests substitute a mock.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, externalID string) (*model.Profile, error)
}

// Client fetches user profiles from the upstream directory API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ProfileFetcher = (*Client)(nil)

// New creates a directory client for the given base URL
// (e.g. "https://reqres.in/api" — profiles live under {base}/users/{id}).
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger,
	}
}

// envelope is the upstream's response wrapper — the profile sits under "data".
type envelope struct {
	Data model.Profile `json:"data"`
}

// FetchProfile retrieves the canonical profile for an upstream user id.
//
// ERROR MAPPING:
//   - 404            → apperror.ErrNotFound ("User does not exist")
//   - other non-2xx  → apperror.ErrUpstream, carrying the upstream status so
//     the HTTP layer can pass it through
//   - transport fail → apperror.ErrUpstream with status 500
func (c *Client) FetchProfile(ctx context.Context, externalID string) (*model.Profile, error) {
	url := fmt.Sprintf("%s/users/%s", c.baseURL, externalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("directory request failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream(http.StatusInternalServerError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.NotFound("User does not exist")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain the body so the connection can be reused, but don't trust it —
		// the caller only gets our generic message plus the status code.
		io.Copy(io.Discard, resp.Body)
		c.logger.Error("directory returned non-2xx",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
		return nil, apperror.Upstream(resp.StatusCode, "An error occured. Please try again")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("directory: decoding profile: %w", err)
	}

	c.logger.Debug("fetched upstream profile",
		slog.String("externalId", externalID),
		slog.String("email", env.Data.Email),
	)

	return &env.Data, nil
}
