// Package api provides the HTTP client for the PodVault API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebovdev/podvault-cli/internal/config"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.podvault.app"
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
	// Secure buffers are read in full, so the fetch gets a longer budget.
	streamTimeout = 10 * time.Minute
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Status)
}

// StreamData is the short-lived access grant for a secure stream.
type StreamData struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	StreamURL string `json:"stream_url"`
}

// Client is the HTTP client for the PodVault API.
type Client struct {
	client  *resty.Client
	stream  *resty.Client
	baseURL string
	token   string
}

// NewClient creates a client for baseURL. token, when set, is sent as a
// bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	userAgent := fmt.Sprintf("PodVault-CLI/%s", config.AppVersion)
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("User-Agent", userAgent)
	if token != "" {
		c.SetAuthToken(token)
	}
	stream := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(streamTimeout).
		SetHeader("User-Agent", userAgent)

	return &Client{client: c, stream: stream, baseURL: baseURL, token: token}
}

func (c *Client) BaseURL() string { return c.baseURL }

func checkResponse(resp *resty.Response) error {
	if !resp.IsSuccess() {
		return &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return nil
}

// GetEpisode fetches one episode by ID.
func (c *Client) GetEpisode(ctx context.Context, id string) (*episode.Episode, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get(apiPrefix + "/episodes/{id}/")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch episode %s: %w", id, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var ep episode.Episode
	if err := json.Unmarshal(resp.Body(), &ep); err != nil {
		return nil, fmt.Errorf("failed to parse episode response: %w", err)
	}
	if ep.ID == "" {
		ep.ID = id
	}
	return &ep, nil
}

// GetStreamData requests a stream grant for the content with the given ID.
func (c *Client) GetStreamData(ctx context.Context, id string) (*StreamData, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get(apiPrefix + "/content/{id}/stream-token")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream token for %s: %w", id, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var data StreamData
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("failed to parse stream token response: %w", err)
	}
	if data.StreamURL == "" {
		return nil, errors.New("stream token response has no stream_url")
	}
	return &data, nil
}

// StreamURL resolves the absolute URL and token to fetch ep's secure stream.
func (c *Client) StreamURL(ctx context.Context, ep *episode.Episode) (string, string, error) {
	data, err := c.GetStreamData(ctx, ep.ID)
	if err != nil {
		return "", "", err
	}
	abs, err := c.resolve(data.StreamURL)
	if err != nil {
		return "", "", err
	}
	log.Debug().Str("episode", ep.ID).Int("expires_in", data.ExpiresIn).Msg("Stream token issued")
	return abs, data.Token, nil
}

func (c *Client) resolve(ref string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}

// FetchStreamBytes downloads rawURL in full. token overrides the client's
// credential when set.
func (c *Client) FetchStreamBytes(ctx context.Context, rawURL, token string) ([]byte, error) {
	if token == "" {
		token = c.token
	}
	req := c.stream.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	body := resp.Body()
	log.Debug().Str("url", rawURL).Int("bytes", len(body)).Msg("Stream fetched")
	if len(body) == 0 {
		return nil, errors.New("empty stream response")
	}
	return body, nil
}
